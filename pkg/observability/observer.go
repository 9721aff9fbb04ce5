package observability

import (
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/security"
)

// MetricsObserver records run progress as Prometheus metrics.
type MetricsObserver struct {
	engine.NopObserver
}

var _ engine.Observer = MetricsObserver{}

func (MetricsObserver) Consolidated(_ string, before, after int) {
	if before > after {
		BlocksConsolidatedTotal.Add(float64(before - after))
	}
}

func (MetricsObserver) BlockFinished(_ string, r *engine.BlockReport) {
	BlocksTotal.WithLabelValues(r.Language, string(r.Status)).Inc()
	if r.Backend != "" {
		BlockDuration.WithLabelValues(r.Language, r.Backend).Observe(r.Duration.Seconds())
	}
}

func (MetricsObserver) SecurityBlocked(_ string, r *engine.BlockReport, _ security.Verdict) {
	SecurityRejectionsTotal.WithLabelValues(r.Language).Inc()
}

func (MetricsObserver) IsolationFallback(_ string, language, _ string) {
	IsolationFallbacksTotal.WithLabelValues(language).Inc()
}

func (MetricsObserver) RunFinished(s *engine.Summary) {
	outcome := "success"
	switch {
	case s.Aborted:
		outcome = "aborted"
	case !s.Success:
		outcome = "failure"
	}
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(s.Duration.Seconds())
}
