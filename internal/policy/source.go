package policy

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/underwriting/internal/config"
	"github.com/gyaneshwarpardhi/underwriting/internal/metrics"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// Source keeps a compiled Policy in step with a config.Loader. A reload that
// fails to load or compile leaves the previous Policy active.
type Source struct {
	loader *config.Loader
	logger *slog.Logger

	mu      sync.Mutex
	current *Policy
	lastErr error
	apply   []func(*Policy)
}

// NewSource compiles the loader's current config and follows its reloads.
func NewSource(loader *config.Loader, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := Compile(loader.Config())
	if err != nil {
		return nil, err
	}
	s := &Source{loader: loader, logger: logger, current: p}
	loader.OnChange(s.compile)
	return s, nil
}

// Policy returns the active compiled policy.
func (s *Source) Policy() *Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnApply registers fn to receive every newly compiled policy.
func (s *Source) OnApply(fn func(*Policy)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply = append(s.apply, fn)
}

// Generation is the loader generation, starting at 1.
func (s *Source) Generation() uint64 { return s.loader.Generation() }

// Watch hot-reloads the policy file until stop is called.
func (s *Source) Watch() (stop func(), err error) { return s.loader.Watch() }

// Reload re-reads the policy file now and returns the policy it produced.
func (s *Source) Reload() (*Policy, error) {
	if _, err := s.loader.Reload(); err != nil {
		metrics.PolicyReloads.WithLabelValues("invalid").Inc()
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return s.current, nil
}

func (s *Source) compile(cfg *config.PolicyConfig) {
	p, err := Compile(cfg)

	s.mu.Lock()
	if err == nil {
		err = restartOnly(s.current, p)
	}
	s.lastErr = err
	if err != nil {
		s.mu.Unlock()
		metrics.PolicyReloads.WithLabelValues("rejected").Inc()
		s.logger.Warn("policy compile failed; keeping previous version", "version", cfg.Version, "err", err)
		return
	}
	s.current = p
	fns := slices.Clone(s.apply)
	s.mu.Unlock()

	metrics.PolicyReloads.WithLabelValues("applied").Inc()
	for _, fn := range fns {
		fn(p)
	}
}

// restartOnly rejects a reload that changes settings fixed at startup. The
// intake pool is sized once when the engine starts.
func restartOnly(cur, next *Policy) error {
	if cur == nil {
		return nil
	}
	var changed []string
	if cur.Engine.IntakeWorkers != next.Engine.IntakeWorkers {
		changed = append(changed, fmt.Sprintf("engine.intake_workers %d -> %d", cur.Engine.IntakeWorkers, next.Engine.IntakeWorkers))
	}
	if cur.Engine.QueueDepth != next.Engine.QueueDepth {
		changed = append(changed, fmt.Sprintf("engine.queue_depth %d -> %d", cur.Engine.QueueDepth, next.Engine.QueueDepth))
	}
	if len(changed) == 0 {
		return nil
	}
	return domainerrors.Newf(domainerrors.CodeConfiguration,
		"policy %s: %s require a restart", next.Version, strings.Join(changed, ", "))
}
