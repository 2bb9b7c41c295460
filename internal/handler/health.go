package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is any dependency the readiness probe must reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health and ready checks.
type HealthHandler struct {
	service string
	deps    map[string]Pinger
}

// NewHealthHandler creates a health handler. deps are probed by Ready.
func NewHealthHandler(service string, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{service: service, deps: deps}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
		"time":    time.Now().Unix(),
	})
}

// Ready responds to GET /ready (for k8s readiness). Формат {"status": "ready"} для единообразия с остальными сервисами.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "dependency": name, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
