// Package api exposes the decisioning engine over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/underwriting/internal/engine"
	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/internal/metrics"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
	"github.com/gyaneshwarpardhi/underwriting/internal/risk"
	"github.com/gyaneshwarpardhi/underwriting/internal/signal"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

const maxBatchSize = 100

// PolicyReloader re-reads the policy source on demand.
type PolicyReloader interface {
	Reload() (*policy.Policy, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng      *engine.Engine
	policies PolicyReloader
	auth     *Authenticator
	logger   *slog.Logger
}

type Option func(*Handler)

// WithAuthenticator requires bearer tokens on /v1 routes.
func WithAuthenticator(a *Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithPolicyReloader enables POST /v1/policy/reload.
func WithPolicyReloader(r PolicyReloader) Option {
	return func(h *Handler) { h.policies = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the complete router: probes, metrics and the /v1 API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	h.Register(r)
	return r
}

// Register mounts the authenticated /v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(requireActor(h.auth, h.logger))

		r.Post("/cases", h.createCase)
		r.Get("/cases", h.worklist)
		r.Get("/cases/{id}", h.getCase)
		r.Post("/cases/{id}/signals", h.submitSignal)
		r.Get("/cases/{id}/snapshot", h.getSnapshot)
		r.Get("/cases/{id}/rationale", h.getRationale)
		r.Get("/cases/{id}/recommendation", h.getRecommendation)
		r.Get("/cases/{id}/history", h.getHistory)
		r.Post("/cases/{id}/transitions", h.applyTransition)
		r.Post("/signals/batch", h.ingestBatch)
		r.Get("/policy", h.getPolicy)
		r.Post("/policy/reload", h.reloadPolicy)
	})
}

// fail writes err with its mapped status. Server-side failures are logged
// and their details withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domainerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "code", code, "err", err, "request_id", middleware.GetReqID(r.Context()))
		if code == domainerrors.CodeInternal {
			writeError(w, status, string(code), "internal error")
			return
		}
	}
	writeDomainError(w, err)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domainerrors.Newf(domainerrors.CodeValidation, "invalid JSON: %s", err)
	}
	return nil
}

// POST /v1/cases
func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	var req engine.NewCase
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.eng.CreateCase(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /v1/cases?status=&tier=&include_closed=
func (h *Handler) worklist(w http.ResponseWriter, r *http.Request) {
	var f engine.WorklistFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		s, err := lifecycle.ParseStatus(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.Status = s
	}
	if v := q.Get("tier"); v != "" {
		t, err := risk.ParseTier(v)
		if err != nil {
			h.fail(w, r, domainerrors.Wrap(err, domainerrors.CodeValidation, "tier"))
			return
		}
		f.Tier = t
	}
	f.IncludeClosed = q.Get("include_closed") == "true"

	items, err := h.eng.Worklist(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": items, "total": len(items)})
}

// GET /v1/cases/{id}
func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.eng.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /v1/cases/{id}/signals is synchronous. The response carries the
// recomputed snapshot.
func (h *Handler) submitSignal(w http.ResponseWriter, r *http.Request) {
	var obs signal.Observation
	if err := decode(r, &obs); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.eng.SubmitSignal(r.Context(), chi.URLParam(r, "id"), obs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":  c.ID,
		"status":   c.Status,
		"signals":  c.Signals,
		"snapshot": c.Snapshot,
	})
}

type batchSignal struct {
	CaseID string `json:"case_id"`
	signal.Observation
}

// POST /v1/signals/batch queues up to 100 observations for async intake.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var batch []batchSignal
	if err := decode(r, &batch); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, string(domainerrors.CodeValidation), "batch must contain at least one signal")
		return
	}
	if len(batch) > maxBatchSize {
		writeError(w, http.StatusBadRequest, string(domainerrors.CodeValidation),
			fmt.Sprintf("batch size %d exceeds max %d", len(batch), maxBatchSize))
		return
	}

	queued := 0
	for _, b := range batch {
		if b.CaseID == "" {
			continue
		}
		if h.eng.Enqueue(b.CaseID, b.Observation) {
			queued++
		}
	}
	status := http.StatusAccepted
	if queued == 0 {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]any{
		"job_id":   uuid.NewString(),
		"total":    len(batch),
		"queued":   queued,
		"rejected": len(batch) - queued,
	})
}

// GET /v1/cases/{id}/snapshot
func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.eng.GetRiskSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/cases/{id}/rationale
func (h *Handler) getRationale(w http.ResponseWriter, r *http.Request) {
	chain, err := h.eng.GetRationaleChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

// GET /v1/cases/{id}/recommendation
func (h *Handler) getRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.eng.GetRecommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /v1/cases/{id}/history
func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.eng.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

type transitionRequest struct {
	Action         lifecycle.Action `json:"action"`
	Reason         string           `json:"reason"`
	ExpectedStatus lifecycle.Status `json:"expected_status"`
}

// POST /v1/cases/{id}/transitions. The actor comes from the request
// identity, never from the body.
func (h *Handler) applyTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.eng.ApplyTransition(r.Context(), chi.URLParam(r, "id"), engine.TransitionRequest{
		Action:         req.Action,
		Actor:          ActorFrom(r.Context()),
		Reason:         req.Reason,
		ExpectedStatus: req.ExpectedStatus,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /v1/policy
func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Policy().Summary())
}

// POST /v1/policy/reload re-reads the policy file. An invalid file keeps
// the active version.
func (h *Handler) reloadPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "policy reload is not configured")
		return
	}
	p, err := h.policies.Reload()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.eng.SwapPolicy(p)
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"version":  p.Version,
	})
}

// GET /healthz is the liveness probe.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz reports 503 while the intake queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
		"policy_version":    h.eng.Policy().Version,
	})
}
