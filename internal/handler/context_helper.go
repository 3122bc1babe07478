package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/middleware"
	"github.com/sicoprot/sicoprot-api/internal/models"
)

// claimsFromContext returns the JWT claims the auth middleware stored on
// the request, or nil on routes reachable without authentication.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, _ := c.Get(middleware.ContextUserKey)
	claims, _ := value.(*models.JWTClaims)
	return claims
}
