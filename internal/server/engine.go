package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/observability/logger"
	"github.com/studiolane/studiolane/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsCloud() || cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/readyz", "/metrics"},
	}))

	httpMetrics, err := metrics.NewHTTPMetrics(metrics.Config{
		ServiceName: "studiolane",
		Environment: cfg.Environment,
	}, otel.GetMeterProvider())
	if err != nil {
		log.Warn("http metrics disabled", zap.Error(err))
	} else {
		engine.Use(metrics.GinMiddleware(httpMetrics))
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return engine
}
