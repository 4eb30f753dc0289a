package observability

import (
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/observability/logger"
	"github.com/studiolane/studiolane/internal/observability/metrics"
	"github.com/studiolane/studiolane/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const serviceName = "studiolane"

var version = "dev"

var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(newTracerProvider),
	fx.Provide(newWebhookMetrics),
	fx.Invoke(func(*sdktrace.TracerProvider) {
		tracing.SetPropagator()
	}),
)

func newTracerProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	return tracing.NewProvider(lc, tracing.Config{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      serviceName,
		ServiceVersion:   version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Tracing.ExporterEndpoint,
		ExporterProtocol: cfg.Tracing.ExporterProtocol,
		SamplingRatio:    cfg.Tracing.SamplingRatio,
	}, log)
}

func newWebhookMetrics(cfg config.Config) *metrics.WebhookMetrics {
	return metrics.WebhookWithConfig(metrics.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
	})
}
