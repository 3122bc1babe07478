package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/service"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT requires a valid bearer access token and stores its claims in the
// context for downstream handlers.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	const prefix = "Bearer "
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing bearer token"))
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(header[len(prefix):]))
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
