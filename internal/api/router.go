package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/troikatech/pbx-voice-bridge/internal/api/handlers"
	"github.com/troikatech/pbx-voice-bridge/pkg/auth"
	"github.com/troikatech/pbx-voice-bridge/pkg/env"
	"github.com/troikatech/pbx-voice-bridge/pkg/middleware"
	"github.com/troikatech/pbx-voice-bridge/pkg/otel"
)

const maxRequestBody = 1 << 20

// NewRouter builds the HTTP surface: the public media and health endpoints
// and the authenticated outbound call controls. redisClient may be nil, which
// disables rate limiting and idempotency keys.
func NewRouter(cfg *env.Config, h *handlers.Handler, redisClient *redis.Client) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	// Before the trace ids, so they can adopt the server span's trace.
	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(maxRequestBody))

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "*" || cfg.CORSAllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", h.GetMetrics)
	router.GET("/metrics/prometheus", h.GetPrometheusMetrics)

	// Fetched by the exchange during playback, so no auth.
	router.GET("/media/:name", h.ServeMedia)
	router.HEAD("/media/:name", h.ServeMedia)

	control := router.Group("")
	control.Use(middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience))
	if redisClient != nil {
		control.Use(middleware.NewRateLimiter(redisClient, cfg.APIRateLimitRPM).Middleware())
		control.Use(middleware.IdempotencyMiddleware(redisClient))
	}
	{
		operate := middleware.RoleMiddleware(auth.RoleAdmin, auth.RoleOperator)
		control.POST("/dial", operate, h.Dial)
		control.POST("/play", operate, h.Play)
		control.POST("/hangup", operate, h.Hangup)

		control.GET("/calls", middleware.RoleMiddleware(auth.RoleAdmin, auth.RoleOperator, auth.RoleViewer), h.ListCalls)
	}

	return router
}
