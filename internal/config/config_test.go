package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 168*time.Hour, cfg.Approval.Deadline(domain.UrgencyLow))
	assert.Equal(t, 72*time.Hour, cfg.Approval.Deadline(domain.UrgencyMedium))
	assert.Equal(t, 24*time.Hour, cfg.Approval.Deadline(domain.UrgencyHigh))
	assert.Equal(t, 4*time.Hour, cfg.Approval.Deadline(domain.UrgencyUrgent))
	assert.Equal(t, 72*time.Hour, cfg.Approval.Deadline(domain.Urgency("unknown")))
	assert.Len(t, cfg.Workflow.Rules, len(domain.Statuses))
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9090"
approval:
  deadlines:
    urgent: 1h
`))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, time.Hour, cfg.Approval.Deadline(domain.UrgencyUrgent))
	assert.Equal(t, 24*time.Hour, cfg.Approval.Deadline(domain.UrgencyHigh))
	assert.NotEmpty(t, cfg.Workflow.Transitions)
}

func TestFromYAMLReplacesWorkflow(t *testing.T) {
	cfg, err := FromYAML([]byte(`
workflow:
  transitions:
    - {from: DRAFT, to: CANCELLED, roles: [ADMIN]}
  rules:
    DRAFT:
      allowed: [CANCELLED]
`))
	require.NoError(t, err)
	require.Len(t, cfg.Workflow.Transitions, 1)
	assert.Len(t, cfg.Workflow.Rules, 1)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, err := FromYAML([]byte("store:\n  driver: postgres\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("approval:\n  deadlines:\n    someday: 1h\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("approval:\n  sweep_interval: 0s\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("workflow:\n  transitions:\n    - {from: DRAFT, to: SENT}\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("store: [unclosed"))
	assert.Error(t, err)
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "quoteflow.yml"), []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
