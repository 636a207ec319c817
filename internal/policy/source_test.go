package policy_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/internal/config"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

func TestSource_ReloadAppliesAndKeepsPreviousOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	loader, err := config.NewLoader(path, nil)
	require.NoError(t, err)
	src, err := policy.NewSource(loader, nil)
	require.NoError(t, err)
	assert.Equal(t, "min-1", src.Policy().Version)

	var applied []string
	src.OnApply(func(p *policy.Policy) { applied = append(applied, p.Version) })

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(minimal, `"min-1"`, `"min-2"`, 1)), 0o644))
	p, err := src.Reload()
	require.NoError(t, err)
	assert.Equal(t, "min-2", p.Version)
	assert.Equal(t, []string{"min-2"}, applied)
	assert.Equal(t, uint64(2), src.Generation())

	unknownFact := strings.NewReplacer(
		`"min-1"`, `"min-3"`,
		`{ name: "Table B", tier: medium }`, `{ name: "Table B", tier: medium, when: "caution.weather > 0" }
  - { name: "Table C", tier: medium }`,
	).Replace(minimal)
	require.NoError(t, os.WriteFile(path, []byte(unknownFact), 0o644))
	_, err = src.Reload()
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
	assert.Equal(t, "min-2", src.Policy().Version)
	assert.Equal(t, []string{"min-2"}, applied)

	require.NoError(t, os.WriteFile(path, []byte("version: ["), 0o644))
	_, err = src.Reload()
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
	assert.Equal(t, "min-2", src.Policy().Version)
}

func TestSource_RejectsIntakeSizingChangeOnReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	loader, err := config.NewLoader(path, nil)
	require.NoError(t, err)
	src, err := policy.NewSource(loader, nil)
	require.NoError(t, err)
	require.Equal(t, 1000, src.Policy().Engine.QueueDepth)

	var applied int
	src.OnApply(func(*policy.Policy) { applied++ })

	resized := strings.Replace(minimal, `version: "min-1"`, "version: \"min-2\"\nengine: { intake_workers: 2, queue_depth: 10 }", 1)
	require.NoError(t, os.WriteFile(path, []byte(resized), 0o644))
	_, err = src.Reload()
	require.ErrorIs(t, err, domainerrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "engine.queue_depth 1000 -> 10")
	assert.Contains(t, err.Error(), "engine.intake_workers 8 -> 2")
	assert.Equal(t, "min-1", src.Policy().Version)
	assert.Zero(t, applied)

	timeoutOnly := strings.Replace(minimal, `version: "min-1"`, "version: \"min-3\"\nengine: { mutation_timeout_ms: 2000 }", 1)
	require.NoError(t, os.WriteFile(path, []byte(timeoutOnly), 0o644))
	p, err := src.Reload()
	require.NoError(t, err)
	assert.Equal(t, "min-3", p.Version)
	assert.Equal(t, 1, applied)
}
