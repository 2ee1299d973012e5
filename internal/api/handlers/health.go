package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"asterisk_version,omitempty"`
	Services  map[string]string `json:"services"`
}

// HealthCheck reports degraded, never an error status, so the process is not
// restarted while the exchange is down; the listener reconnects on its own.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":          "healthy",
		"ari":          "unknown",
		"event_stream": "disconnected",
		"redis":        "disabled",
		"database":     "disabled",
		"tts":          "unavailable",
	}
	resp := HealthResponse{Timestamp: time.Now().Format(time.RFC3339)}

	if h.exchange != nil {
		if info, err := h.exchange.Info(ctx); err != nil {
			services["ari"] = "unhealthy"
		} else {
			services["ari"] = "healthy"
			resp.Version = info.System.Version
		}
	}

	if metrics.StreamConnected() {
		services["event_stream"] = "connected"
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	if h.mongoClient != nil {
		if err := h.mongoClient.Ping(ctx); err != nil {
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
	}

	if h.speech != nil && h.speech.IsAvailable() {
		services["tts"] = h.speech.Provider()
	}

	resp.Status = "healthy"
	for name, status := range services {
		if status == "unhealthy" || (name == "event_stream" && status == "disconnected") {
			resp.Status = "degraded"
			break
		}
	}
	resp.Services = services

	c.JSON(http.StatusOK, resp)
}
