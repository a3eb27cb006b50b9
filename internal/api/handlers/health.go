package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":      "healthy",
		"database": "healthy",
		"redis":    "healthy",
	}

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		services["redis"] = "unhealthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
	}

	services["voice"] = availability(h.voice != nil && h.voice.IsAvailable())
	services["telephony"] = availability(h.twilio != nil && h.twilio.IsAvailable())
	if h.oauth != nil && len(h.oauth.Providers()) > 0 {
		services["calendar"] = "available"
	} else {
		services["calendar"] = "unavailable"
	}

	overallStatus := "healthy"
	status := http.StatusOK
	for _, s := range services {
		if s == "unhealthy" {
			overallStatus = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(status, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  services,
	})
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
