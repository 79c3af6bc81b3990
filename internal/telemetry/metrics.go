package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Decisions           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "qc_decisions_total", Help: "Review decisions committed, by decision"}, []string{"decision"})
	ValidationRejects   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "qc_validation_rejects_total", Help: "Decisions refused by validation, by field"}, []string{"field"})
	AuditWriteFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "qc_audit_write_failures_total", Help: "Audit appends that failed after the transition committed"})
	AuditMirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "qc_audit_mirror_failures_total", Help: "Audit entries that could not be archived to object storage"})
	NotifyFailures      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "qc_notify_failures_total", Help: "Transition notifications that failed, by sink"}, []string{"sink"})
	MalformedHistory    = prometheus.NewCounter(prometheus.CounterOpts{Name: "qc_malformed_history_total", Help: "Stored workflow logs that could not be decoded"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "qc_rate_limit_rejects_total", Help: "Decisions rejected by the per-reviewer rate limiter"})
	MissingReviewer     = prometheus.NewCounter(prometheus.CounterOpts{Name: "qc_missing_reviewer_total", Help: "Decisions recorded without an authenticated reviewer"})
	PendingQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "qc_pending_queue_depth", Help: "Assets awaiting review as of the last stats read"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Decisions,
			ValidationRejects,
			AuditWriteFailures,
			AuditMirrorFailures,
			NotifyFailures,
			MalformedHistory,
			RateLimitRejects,
			MissingReviewer,
			PendingQueueDepth,
		)
	})
	return promhttp.Handler()
}
