// Package engine is the case decisioning service. It serializes mutations
// per case, recomputes the risk snapshot eagerly on every signal change and
// derives rationale and recommendations from the current policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/underwriting/internal/cases"
	"github.com/gyaneshwarpardhi/underwriting/internal/events"
	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/internal/metrics"
	"github.com/gyaneshwarpardhi/underwriting/internal/platform/lock"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
	"github.com/gyaneshwarpardhi/underwriting/internal/rationale"
	"github.com/gyaneshwarpardhi/underwriting/internal/recommend"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

// NewCase is the input to CreateCase. ID is generated when empty.
type NewCase struct {
	ID      string                 `json:"id,omitempty"`
	Profile cases.ApplicantProfile `json:"profile"`
}

// TransitionRequest asks for a lifecycle action. ExpectedStatus is the
// status the caller last observed; a mismatch is a concurrent modification.
type TransitionRequest struct {
	Action         lifecycle.Action `json:"action"`
	Actor          string           `json:"actor"`
	Reason         string           `json:"reason,omitempty"`
	ExpectedStatus lifecycle.Status `json:"expected_status"`
}

// Options wires the engine's collaborators. Zero values select the
// in-process defaults.
type Options struct {
	Repository cases.Repository
	Locker     lock.Locker
	Publisher  events.Publisher
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Engine owns all case mutations.
type Engine struct {
	policy    atomic.Pointer[policy.Policy]
	repo      cases.Repository
	locker    lock.Locker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	intake    *workerPool[*intakeWork]
}

type intakeWork struct {
	caseID string
	obs    signal.Observation
}

// New creates an Engine under p and starts the async intake pool sized from
// p.Engine. The pool stops when ctx is cancelled or Shutdown is called.
func New(ctx context.Context, p *policy.Policy, opts Options) *Engine {
	e := &Engine{
		repo:      opts.Repository,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       opts.Clock,
		tracer:    otel.Tracer("github.com/gyaneshwarpardhi/underwriting/internal/engine"),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.repo == nil {
		e.repo = cases.NewMemory()
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.publisher == nil {
		e.publisher = events.NewLogPublisher(e.logger)
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.policy.Store(p)

	e.intake = newWorkerPool(ctx, p.Engine.IntakeWorkers, p.Engine.QueueDepth, e.processIntake)
	return e
}

// SwapPolicy atomically replaces the policy (used on hot-reload). Mutations
// already holding a case lock finish under the policy they loaded.
func (e *Engine) SwapPolicy(p *policy.Policy) {
	e.policy.Store(p)
}

// Policy returns the active policy.
func (e *Engine) Policy() *policy.Policy {
	return e.policy.Load()
}

// CreateCase opens a case in New with the empty-set snapshot.
func (e *Engine) CreateCase(ctx context.Context, nc NewCase) (_ *cases.Case, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.CreateCase")
	defer func() { endSpan(span, err) }()

	if err := nc.Profile.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(nc.ID)
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("case.id", id))

	p := e.policy.Load()
	now := e.now()
	c := &cases.Case{
		ID:        id,
		Profile:   nc.Profile,
		Status:    lifecycle.StatusNew,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := recompute(p, c); err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	metrics.CasesCreated.Inc()
	e.logger.InfoContext(ctx, "case created", "case_id", id, "product", c.Profile.Product)
	return c, nil
}

// SubmitSignal classifies obs, adds it to the case and recomputes the
// snapshot before returning. A case waiting on evidence moves back to
// InProgress in the same mutation.
func (e *Engine) SubmitSignal(ctx context.Context, caseID string, obs signal.Observation) (_ *cases.Case, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitSignal",
		trace.WithAttributes(attribute.String("case.id", caseID), attribute.String("signal.category", obs.Category)))
	defer func() { endSpan(span, err) }()

	var (
		accepted  signal.Signal
		redeliver bool
	)
	c, err := e.mutate(ctx, caseID, "submit_signal", func(p *policy.Policy, c *cases.Case) error {
		if err := lifecycle.CheckMutable(c.Status); err != nil {
			return err
		}
		sig, err := signal.New(p.Thresholds, obs)
		if err != nil {
			return err
		}
		if prior, ok := c.Signal(sig.ID); ok && prior.Equal(sig) {
			redeliver = true
			return errUnchanged
		}
		if err := c.AddSignal(sig); err != nil {
			return err
		}
		accepted = sig
		if err := recompute(p, c); err != nil {
			return err
		}
		if c.Status == lifecycle.StatusPendingEvidence {
			to, err := lifecycle.Apply(c.Status, lifecycle.ActionReceiveEvidence, c.SnapshotFresh())
			if err != nil {
				return err
			}
			e.record(c, to, lifecycle.ActionReceiveEvidence, lifecycle.SystemActor, "evidence received: "+sig.Label)
		}
		return nil
	})
	if err != nil {
		metrics.SignalsRejected.WithLabelValues(string(domainerrors.CodeOf(err))).Inc()
		return nil, err
	}
	if redeliver {
		e.logger.DebugContext(ctx, "signal redelivered; case unchanged", "case_id", caseID, "signal_id", obs.ID)
		return c, nil
	}
	metrics.SignalsSubmitted.WithLabelValues(string(accepted.Category), string(accepted.Severity)).Inc()
	metrics.CompositeScore.Observe(c.Snapshot.CompositeScore)
	return c, nil
}

// ApplyTransition applies a lifecycle action. The caller's ExpectedStatus is
// checked before the transition's legality.
func (e *Engine) ApplyTransition(ctx context.Context, caseID string, req TransitionRequest) (_ *cases.Case, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.ApplyTransition",
		trace.WithAttributes(attribute.String("case.id", caseID), attribute.String("transition.action", string(req.Action))))
	defer func() { endSpan(span, err) }()

	var action lifecycle.Action
	defer func() {
		outcome := "applied"
		if err != nil {
			outcome = string(domainerrors.CodeOf(err))
		}
		label := string(action)
		if label == "" {
			label = "unknown"
		}
		metrics.Transitions.WithLabelValues(label, outcome).Inc()
	}()

	action, err = lifecycle.ParseAction(string(req.Action))
	if err != nil {
		return nil, err
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "transition actor is required")
	}
	if req.ExpectedStatus == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "expected_status is required")
	}
	expected, err := lifecycle.ParseStatus(string(req.ExpectedStatus))
	if err != nil {
		return nil, err
	}

	return e.mutate(ctx, caseID, "transition", func(_ *policy.Policy, c *cases.Case) error {
		if c.Status != expected {
			return domainerrors.Newf(domainerrors.CodeConcurrentModification,
				"case %s is %s, caller expected %s", c.ID, c.Status, expected)
		}
		to, err := lifecycle.Apply(c.Status, action, c.SnapshotFresh())
		if err != nil {
			return err
		}
		e.record(c, to, action, actor, req.Reason)
		return nil
	})
}

// GetCase returns a copy of the case.
func (e *Engine) GetCase(ctx context.Context, caseID string) (*cases.Case, error) {
	return e.repo.Get(ctx, caseID)
}

// GetRiskSnapshot returns the snapshot for the case's current signal set.
func (e *Engine) GetRiskSnapshot(ctx context.Context, caseID string) (*risk.Snapshot, error) {
	c, err := e.repo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.SnapshotFresh() {
		return nil, domainerrors.Newf(domainerrors.CodeInternal,
			"case %s: snapshot version %d behind signal version %d", c.ID, snapshotVersion(c), c.SignalVersion)
	}
	return c.Snapshot, nil
}

// GetRationaleChain returns the full chain ending with the Recommendation step.
func (e *Engine) GetRationaleChain(ctx context.Context, caseID string) (rationale.Chain, error) {
	c, err := e.repo.Get(ctx, caseID)
	if err != nil {
		return rationale.Chain{}, err
	}
	chain, rec, err := derive(e.policy.Load(), c)
	if err != nil {
		return rationale.Chain{}, err
	}
	return chain.Append(rec.Step), nil
}

// GetRecommendation synthesizes the recommendation for the current snapshot.
func (e *Engine) GetRecommendation(ctx context.Context, caseID string) (recommend.Recommendation, error) {
	c, err := e.repo.Get(ctx, caseID)
	if err != nil {
		return recommend.Recommendation{}, err
	}
	_, rec, err := derive(e.policy.Load(), c)
	if err != nil {
		return recommend.Recommendation{}, err
	}
	metrics.Recommendations.WithLabelValues(string(rec.Action)).Inc()
	return rec, nil
}

// GetHistory returns the ordered transition history.
func (e *Engine) GetHistory(ctx context.Context, caseID string) ([]lifecycle.Transition, error) {
	c, err := e.repo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return c.History, nil
}

// Enqueue places an observation on the async intake queue. It returns false
// when the queue is full.
func (e *Engine) Enqueue(caseID string, obs signal.Observation) bool {
	ok := e.intake.Submit(&intakeWork{caseID: caseID, obs: obs})
	if ok {
		metrics.IntakeEnqueued.Inc()
	} else {
		metrics.IntakeDropped.Inc()
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return ok
}

func (e *Engine) processIntake(ctx context.Context, w *intakeWork) {
	if _, err := e.SubmitSignal(ctx, w.caseID, w.obs); err != nil {
		e.logger.WarnContext(ctx, "async signal rejected",
			"case_id", w.caseID, "label", w.obs.Label, "code", domainerrors.CodeOf(err), "err", err)
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
}

// QueueUtilization returns intake queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.intake.QueueCap() == 0 {
		return 0
	}
	return float64(e.intake.QueueLen()) / float64(e.intake.QueueCap())
}

// Shutdown stops intake, waits for queued observations and closes the
// event publisher.
func (e *Engine) Shutdown() error {
	e.intake.Drain()
	if err := e.publisher.Close(); err != nil {
		return fmt.Errorf("engine: close publisher: %w", err)
	}
	return nil
}

// errUnchanged tells mutate that fn found nothing to change; the stored case
// is returned as-is without a new revision.
var errUnchanged = errors.New("case unchanged")

// mutate runs fn against a private copy of the case while holding the case
// lock, then stores it with a revision check. Once the lock is held the
// mutation is detached from caller cancellation and bounded by the policy's
// mutation timeout. Transition events are published after the lock is
// released, so a slow sink never holds up the next writer of the case.
func (e *Engine) mutate(ctx context.Context, caseID, op string, fn func(*policy.Policy, *cases.Case) error) (*cases.Case, error) {
	start := time.Now()
	defer func() {
		metrics.MutationDuration.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	next, fresh, err := e.commit(ctx, caseID, fn)
	if err != nil {
		return nil, err
	}
	if len(fresh) > 0 {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.policy.Load().MutationTimeout())
		defer cancel()
		for _, t := range fresh {
			e.publish(pctx, next, t)
		}
	}
	return next, nil
}

// commit is the locked part of mutate. It returns the stored case and the
// transitions it added.
func (e *Engine) commit(ctx context.Context, caseID string, fn func(*policy.Policy, *cases.Case) error) (*cases.Case, []lifecycle.Transition, error) {
	release, err := e.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: lock case %s: %w", caseID, err)
	}
	defer release()

	p := e.policy.Load()
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.MutationTimeout())
	defer cancel()

	cur, err := e.repo.Get(mctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	next := cur.Clone()
	if err := fn(p, next); err != nil {
		if errors.Is(err, errUnchanged) {
			return cur, nil, nil
		}
		return nil, nil, err
	}
	next.Revision = cur.Revision + 1
	next.UpdatedAt = e.now()

	if err := e.repo.Update(mctx, next, cur.Revision); err != nil {
		if errors.Is(err, domainerrors.ErrConcurrentModification) {
			metrics.ConcurrentConflicts.Inc()
		}
		return nil, nil, err
	}
	return next, next.History[len(cur.History):], nil
}

func (e *Engine) record(c *cases.Case, to lifecycle.Status, action lifecycle.Action, actor, reason string) {
	c.Record(lifecycle.Transition{
		ID:          uuid.NewString(),
		From:        c.Status,
		To:          to,
		Action:      action,
		Actor:       actor,
		Reason:      reason,
		SnapshotRef: ptr(snapshotVersion(c)),
		At:          e.now(),
	})
}

func (e *Engine) publish(ctx context.Context, c *cases.Case, t lifecycle.Transition) {
	ev := events.TransitionEvent{
		CaseID:      c.ID,
		Transition:  t,
		Revision:    c.Revision,
		PublishedAt: e.now(),
	}
	if c.Snapshot != nil {
		ev.Score = c.Snapshot.CompositeScore
		ev.Tier = string(c.Snapshot.Tier)
		ev.PolicyVersion = c.Snapshot.PolicyVersion
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		metrics.PublishFailures.Inc()
		e.logger.ErrorContext(ctx, "publish transition event", "case_id", c.ID, "seq", t.Seq, "err", err)
	}
}

// recompute replaces the case snapshot with one for its current signal set,
// and proves the policy can still explain and recommend on it.
func recompute(p *policy.Policy, c *cases.Case) error {
	snap, err := risk.Aggregate(p.Risk, c.Signals)
	if err != nil {
		return err
	}
	c.Snapshot = snap.WithVersion(c.SignalVersion)
	_, _, err = derive(p, c)
	return err
}

func derive(p *policy.Policy, c *cases.Case) (rationale.Chain, recommend.Recommendation, error) {
	chain, err := rationale.Build(c.Snapshot, c.Profile.Rationale(), p.Guidelines)
	if err != nil {
		return rationale.Chain{}, recommend.Recommendation{}, err
	}
	rec, err := recommend.Recommend(p.Recommend, c.Snapshot.Tier, chain)
	if err != nil {
		return rationale.Chain{}, recommend.Recommendation{}, err
	}
	return chain, rec, nil
}

func snapshotVersion(c *cases.Case) uint64 {
	if c.Snapshot == nil {
		return 0
	}
	return c.Snapshot.Version
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domainerrors.CodeOf(err)))
	}
	span.End()
}

func ptr[T any](v T) *T { return &v }
