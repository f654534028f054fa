package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/iamwavecut/ngguard"

var (
	auditMu sync.RWMutex
	audit   = zap.NewNop()

	registerOnce sync.Once

	spamVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ngguard",
			Name:      "spam_verdicts_total",
			Help:      "Messages scored as spam, by the passes that contributed",
		},
		[]string{"pass"},
	)

	scoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ngguard",
			Name:      "scoring_duration_seconds",
			Help:      "Time spent scoring a message",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	moderationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ngguard",
			Name:      "moderation_actions_total",
			Help:      "Moderation actions taken, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	updateProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ngguard",
			Name:      "update_processing_duration_seconds",
			Help:      "Time spent processing inbound updates",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// Init wires the audit logger, the tracer provider and the metric
// collectors. The returned function flushes and shuts them down.
func Init(ctx context.Context) (func(context.Context) error, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	SetAudit(logger.Named("audit"))

	register()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		_ = logger.Sync()
		return tp.Shutdown(ctx)
	}, nil
}

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(spamVerdictsTotal, scoringDuration, moderationActionsTotal, updateProcessingDuration)
	})
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func SetAudit(logger *zap.Logger) {
	auditMu.Lock()
	defer auditMu.Unlock()
	audit = logger
}

// Audit returns the structured logger for moderation decisions.
func Audit() *zap.Logger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return audit
}
