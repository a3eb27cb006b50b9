package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/hallcall/hallcall-api/pkg/metrics"
)

// Metrics serves the Prometheus registry.
func (h *Handler) Metrics(c *gin.Context) {
	metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
