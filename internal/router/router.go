package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/handler"
	"github.com/psds-microservice/homecam-relay/internal/ratelimit"
	"github.com/psds-microservice/homecam-relay/pkg/constants"
)

// APIHandlers groups everything the API process serves.
type APIHandlers struct {
	Health    *handler.HealthHandler
	Codes     *handler.CodeHandler
	Sessions  *handler.SessionHandler
	Signaling *handler.SignalingHandler
	// CodeLimiter throttles code lookup and connect; nil disables throttling.
	CodeLimiter *ratelimit.Limiter
}

// NewAPI builds the HTTP router of the API process: codes, sessions, signaling socket.
func NewAPI(h APIHandlers, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET(constants.PathHealth, h.Health.Health)
	r.GET(constants.PathReady, h.Health.Ready)

	throttle := ratelimit.Middleware(h.CodeLimiter)

	// REST connection codes
	codes := r.Group("/codes")
	{
		codes.POST("", h.Codes.Generate)
		codes.GET("/:code", throttle, h.Codes.Lookup)
		codes.POST("/:code/connect", throttle, h.Codes.Connect)
		codes.POST("/:code/refresh", h.Codes.Refresh)
		codes.DELETE("/:code", h.Codes.Disconnect)
	}
	r.GET("/cameras/:camera_id/code", h.Codes.ActiveCode)
	r.POST("/media/url", h.Codes.MediaURL)

	// REST sessions
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.Sessions.CreateSession)
		sessions.GET("", h.Sessions.ListSessions)
		sessions.GET("/:id", h.Sessions.GetSession)
		sessions.DELETE("/:id", h.Sessions.DeleteSession)
		sessions.GET("/:id/stats", h.Sessions.GetStats)
		sessions.POST("/:id/viewers", h.Sessions.AddViewer)
		sessions.DELETE("/:id/viewers/:viewer_id", h.Sessions.RemoveViewer)
		sessions.POST("/:id/heartbeat", h.Sessions.Heartbeat)
		sessions.PUT("/:id/quality", h.Sessions.ChangeQuality)
	}

	// WebSocket: /ws/signaling/:user_id
	r.GET(constants.PathSignaling, h.Signaling.ServeWS)

	return r
}

// NewRelay builds the router of the media relay process. The media socket lives at the root path.
func NewRelay(health *handler.HealthHandler, media *handler.StreamWSHandler, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)
	r.GET(constants.PathMetrics, media.Metrics)
	r.GET(constants.PathStreams, media.ListStreams)
	r.GET(constants.PathStreams+"/:camera_id", media.GetStream)

	// WebSocket: /?type=..&cameraId=..&ts=..&token=..
	r.GET(constants.PathMedia, media.ServeWS)

	return r
}

// requestLogger пишет одну строку на запрос; токены в query не логируются.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			logger.Error("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
