package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Transition("DRAFT", "PENDING_REVIEW", true)
	r.Transition("DRAFT", "PENDING_REVIEW", true)
	r.Transition("SENT", "ACCEPTED", false)
	r.Notification("approval_request", false)
	r.Conflict()
	r.SweepDuration(10 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("DRAFT", "PENDING_REVIEW", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("SENT", "ACCEPTED", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("approval_request", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflicts))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Transition("a", "b", true)
	r.ApprovalDecision("MANAGER", "approved")
	r.Escalation(true)
	r.Revision("requested")
	r.SweepItem("escalated")
	r.SweepDuration(time.Second)
	r.Notification("x", true)
	r.Conflict()
}
