package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/service"
)

// MetricsHandler exposes the liveness and Prometheus endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler constructs the handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Prometheus serves the metrics registry in exposition format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports process liveness. Database readiness is a separate
// endpoint so orchestrators can tell the two apart.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "sicoprot-api"})
}
