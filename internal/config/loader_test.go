package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

const validPolicy = `
version: "v1"
severity:
  financial: { caution: 0.05, adverse: 0.15 }
  medical: { caution: 0.1, adverse: 0.25, limits: { bmi: { caution: 30, adverse: 35 } } }
  behavioral: {}
weights:
  medical:    { info: 0, caution: 18.75, adverse: 45 }
  financial:  { info: 0, caution: 15, adverse: 44.44 }
  behavioral: { info: 0, caution: 8, adverse: 20 }
  disclosure: { info: 0, caution: 30, adverse: 30 }
guidelines:
  - { name: "Standard Issue", tier: Low }
  - { name: "Table B", tier: Medium }
  - { name: "Referral", tier: High }
recommendation:
  medium: { base: "25", per_point: "2.5", max: "100" }
  high:   { base: "100", per_point: "5", max: "300" }
`

func writePolicy(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestLoader_InitialLoadAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, validPolicy)

	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, uint64(1), l.Generation())
	assert.Equal(t, 1000, cfg.Engine.QueueDepth)
	assert.Equal(t, "above", cfg.Severity["medical"].Limits["bmi"].Direction)
	assert.Equal(t, DefaultAdverse, cfg.Severity["behavioral"].Adverse)
	assert.Equal(t, DefaultEvidenceTrigger, cfg.Recommendation.EvidenceTrigger)
}

func TestLoader_InvalidStartupFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, strings.Replace(validPolicy, `version: "v1"`, "", 1))

	_, err := NewLoader(path, nil)
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)

	_, err = NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
}

func TestLoader_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, validPolicy)
	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	l.OnChange(func(*PolicyConfig) { calls.Add(1) })

	writePolicy(t, path, strings.Replace(validPolicy, `"v1"`, `"v2"`, 1))
	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, "v2", cfg.Version)
	assert.Equal(t, uint64(2), l.Generation())
	assert.Equal(t, int32(1), calls.Load())

	writePolicy(t, path, strings.Replace(validPolicy, "adverse: 44.44", "adverse: -1", 1))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, "v2", l.Config().Version)
	assert.Equal(t, uint64(2), l.Generation())
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_WatchHotReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, validPolicy)
	l, err := NewLoader(path, nil)
	require.NoError(t, err)

	seen := make(chan string, 8)
	l.OnChange(func(c *PolicyConfig) { seen <- c.Version })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	writePolicy(t, path, strings.Replace(validPolicy, `"v1"`, `"v3"`, 1))

	select {
	case v := <-seen:
		assert.Equal(t, "v3", v)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the policy")
	}
}

func TestValidate_SeverityAndLimits(t *testing.T) {
	cfg, err := Parse([]byte(validPolicy))
	require.NoError(t, err)

	cfg.Severity["medical"].Limits["egfr"] = LimitConf{Caution: 30, Adverse: 60, Direction: "below"}
	cfg.Severity["medical"].Limits["Heart Rate"] = LimitConf{Caution: 100, Adverse: 120, Direction: "sideways"}
	cfg.Severity["disclosure"] = SeverityConf{Caution: 0.1, Adverse: 0.2}
	delete(cfg.Severity, "financial")

	err = Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"severity.medical.limits.egfr",
		`direction must be above or below, got "sideways"`,
		"lower_snake_case",
		"severity.disclosure",
		"severity.financial: thresholds are required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
