// Package metrics exposes Prometheus instruments for workflow activity. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quoteflow"

type Recorder struct {
	transitions   *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	revisions     *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	notifications *prometheus.CounterVec
	conflicts     prometheus.Counter
}

// New registers all instruments with reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions attempted, by source, target and result.",
		}, []string{"from", "to", "result"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Approval decisions, by level and outcome (escalated, approved, rejected).",
		}, []string{"level", "outcome"}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_escalations_total",
			Help:      "Urgency escalations, split by manual and automatic.",
		}, []string{"mode"}),
		revisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_total",
			Help:      "Revision lifecycle steps.",
		}, []string{"stage"}),
		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_sweep_items_total",
			Help:      "Quotations visited by the deadline sweep, by outcome.",
		}, []string{"outcome"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deadline_sweep_duration_seconds",
			Help:      "Time spent in one deadline sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification sends, by kind and result.",
		}, []string{"kind", "result"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_conflicts_total",
			Help:      "Saves rejected because the quotation changed concurrently.",
		}),
	}
}

func (r *Recorder) Transition(from, to string, ok bool) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to, result(ok)).Inc()
}

func (r *Recorder) ApprovalDecision(level, outcome string) {
	if r == nil {
		return
	}
	r.approvals.WithLabelValues(level, outcome).Inc()
}

func (r *Recorder) Escalation(automatic bool) {
	if r == nil {
		return
	}
	mode := "manual"
	if automatic {
		mode = "automatic"
	}
	r.escalations.WithLabelValues(mode).Inc()
}

func (r *Recorder) Revision(stage string) {
	if r == nil {
		return
	}
	r.revisions.WithLabelValues(stage).Inc()
}

func (r *Recorder) SweepItem(outcome string) {
	if r == nil {
		return
	}
	r.sweepItems.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SweepDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.sweepDuration.Observe(d.Seconds())
}

func (r *Recorder) Notification(kind string, ok bool) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(kind, result(ok)).Inc()
}

func (r *Recorder) Conflict() {
	if r == nil {
		return
	}
	r.conflicts.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
