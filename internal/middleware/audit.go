package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/models"
	"github.com/sicoprot/sicoprot-api/internal/repository"
	"github.com/sicoprot/sicoprot-api/pkg/middleware/requestid"
)

// Audit records an audit row after each successful request on the wrapped
// route. Failed requests leave no audit trail; the access log covers them.
func Audit(repo *repository.UserRepository, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			if jwtClaims, ok := claims.(*models.JWTClaims); ok {
				userID = &jwtClaims.UserID
			}
		}
		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		}

		snapshot, _ := json.Marshal(map[string]interface{}{
			"route":      c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": requestid.Value(c),
		})

		_ = repo.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			NewValues:  snapshot,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		})
	}
}
