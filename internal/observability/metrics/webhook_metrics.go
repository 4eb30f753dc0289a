package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics tracks gateway webhook processing health.
type WebhookMetrics struct {
	eventsProcessed   *prometheus.CounterVec
	processingSeconds *prometheus.HistogramVec
	dunningEscalated  *prometheus.CounterVec
	streakAgeDays     prometheus.Histogram
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

func Webhook() *WebhookMetrics {
	return WebhookWithConfig(Config{})
}

func WebhookWithConfig(cfg Config) *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = newWebhookMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return webhookMetrics
}

func ResetWebhookMetricsForTest() {
	webhookMetricsOnce = sync.Once{}
	webhookMetrics = nil
}

func newWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "studiolane"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	eventsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_webhook_events_total",
			Help:        "Gateway webhook events by type and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"event_type", "outcome"},
	)
	processingSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "billing_webhook_processing_seconds",
			Help:        "Webhook handler latency by event type.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)
	dunningEscalated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_dunning_escalations_total",
			Help:        "Dunning worker escalation steps by kind.",
			ConstLabels: constLabels,
		},
		[]string{"step"},
	)
	streakAgeDays := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "billing_failure_streak_age_days",
			Help:        "Age of failure streaks observed by the dunning worker.",
			ConstLabels: constLabels,
			Buckets:     []float64{1, 3, 7, 14, 21, 30, 60},
		},
	)

	for _, collector := range []prometheus.Collector{eventsProcessed, processingSeconds, dunningEscalated, streakAgeDays} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &WebhookMetrics{
		eventsProcessed:   eventsProcessed,
		processingSeconds: processingSeconds,
		dunningEscalated:  dunningEscalated,
		streakAgeDays:     streakAgeDays,
	}
}

// ObserveEvent records one processed webhook event.
func (m *WebhookMetrics) ObserveEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.eventsProcessed.WithLabelValues(eventType, normalizeLabel(outcome)).Inc()
	m.processingSeconds.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveEscalation records one dunning escalation step.
func (m *WebhookMetrics) ObserveEscalation(step string, streakAge time.Duration) {
	if m == nil {
		return
	}
	m.dunningEscalated.WithLabelValues(normalizeLabel(step)).Inc()
	m.streakAgeDays.Observe(streakAge.Hours() / 24)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
