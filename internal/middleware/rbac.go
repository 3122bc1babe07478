package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

// RequireRoles gates a route to the given roles. This is only the coarse
// filter; per-resource ownership (project membership, authorship) is
// decided in the service layer.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			abort(c, appErrors.ErrUnauthorized)
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok {
			abort(c, appErrors.ErrUnauthorized)
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		abort(c, appErrors.Clone(appErrors.ErrForbidden, "role is not allowed on this route"))
	}
}
