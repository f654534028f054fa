package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordSpamVerdict counts a spam verdict once per contributing pass.
func RecordSpamVerdict(passes ...string) {
	for _, pass := range passes {
		spamVerdictsTotal.WithLabelValues(pass).Inc()
	}
}

func ObserveScoring(elapsed time.Duration) {
	scoringDuration.Observe(elapsed.Seconds())
}

func RecordModerationAction(action, outcome string) {
	moderationActionsTotal.WithLabelValues(action, outcome).Inc()
}

// StartUpdateProcessing returns a function to record update processing duration
func StartUpdateProcessing() func(status string) {
	start := time.Now()
	return func(status string) {
		updateProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// Gatherer exposes the collectors for tests and custom endpoints.
func Gatherer() prometheus.Gatherer {
	register()
	return prometheus.DefaultGatherer
}
