package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/underwriting/internal/engine"
	"github.com/gyaneshwarpardhi/underwriting/internal/events"
	"github.com/gyaneshwarpardhi/underwriting/internal/policy"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

const signingKey = "test-signing-key-0123456789abcdef"

type stubReloader struct {
	p   *policy.Policy
	err error
}

func (s stubReloader) Reload() (*policy.Policy, error) { return s.p, s.err }

func loadPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	data, err := os.ReadFile("../../configs/policy.yaml")
	require.NoError(t, err)
	p, err := policy.Load(data)
	require.NoError(t, err)
	return p
}

func newServer(t *testing.T, opts ...Option) (*httptest.Server, *engine.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(context.Background(), loadPolicy(t), engine.Options{
		Publisher: events.NewLogPublisher(logger),
		Logger:    logger,
	})
	t.Cleanup(func() { _ = eng.Shutdown() })

	h := New(eng, append([]Option{WithLogger(logger)}, opts...)...)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, eng
}

type client struct {
	t       *testing.T
	base    string
	headers map[string]string
}

func (c client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

var profile = map[string]any{
	"name":          "Dana Whitfield",
	"age":           47,
	"product":       "Term Life 20",
	"face_amount":   1000000,
	"annual_income": 100000,
}

func TestCaseFlow(t *testing.T) {
	srv, _ := newServer(t)
	c := client{t: t, base: srv.URL, headers: map[string]string{ActorHeader: "uw-lee"}}

	status, body := c.do(http.MethodPost, "/v1/cases", map[string]any{"id": "case-1", "profile": profile})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "New", body["status"])

	status, _ = c.do(http.MethodPost, "/v1/cases/case-1/signals", map[string]any{
		"id": "income", "category": "financial", "label": "Annual Income",
		"observed": 70000, "expected": "$85,000", "source": "tax-transcript", "confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, status)
	status, body = c.do(http.MethodPost, "/v1/cases/case-1/signals", map[string]any{
		"id": "bmi", "category": "medical", "label": "BMI",
		"observed": "31.2", "source": "paramedical-exam", "confidence": 0.8,
	})
	require.Equal(t, http.StatusOK, status)
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, 55.0, snap["composite_score"])
	assert.Equal(t, "Medium", snap["tier"])

	status, body = c.do(http.MethodPost, "/v1/cases/case-1/signals", map[string]any{
		"id": "income", "category": "behavioral", "label": "Hobby",
		"observed": 0, "source": "self-report", "confidence": 0.1,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])

	status, body = c.do(http.MethodGet, "/v1/cases/case-1/recommendation", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "RequestEvidence", body["action"])
	assert.Equal(t, "Pending Evidence", body["rating"])

	status, body = c.do(http.MethodGet, "/v1/cases/case-1/rationale", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["steps"], 5)

	status, body = c.do(http.MethodPost, "/v1/cases/case-1/transitions", map[string]any{
		"action": "open", "expected_status": "New",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "InProgress", body["status"])

	status, body = c.do(http.MethodGet, "/v1/cases/case-1/history", nil)
	require.Equal(t, http.StatusOK, status)
	transitions := body["transitions"].([]any)
	require.Len(t, transitions, 1)
	assert.Equal(t, "uw-lee", transitions[0].(map[string]any)["actor"])

	status, body = c.do(http.MethodGet, "/v1/cases?tier=medium", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["total"])
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newServer(t)
	c := client{t: t, base: srv.URL, headers: map[string]string{ActorHeader: "uw-lee"}}

	status, body := c.do(http.MethodGet, "/v1/cases/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_case", body["error"])

	status, _ = c.do(http.MethodPost, "/v1/cases", map[string]any{"profile": map[string]any{"name": ""}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do(http.MethodPost, "/v1/cases", map[string]any{"id": "case-e", "profile": profile})
	require.Equal(t, http.StatusCreated, status)

	status, body = c.do(http.MethodPost, "/v1/cases/case-e/transitions", map[string]any{
		"action": "approve", "expected_status": "New",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", body["error"])

	status, body = c.do(http.MethodPost, "/v1/cases/case-e/transitions", map[string]any{
		"action": "open", "expected_status": "InProgress",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "concurrent_modification", body["error"])

	for _, step := range []map[string]any{
		{"action": "open", "expected_status": "New"},
		{"action": "decline", "expected_status": "InProgress"},
	} {
		status, _ = c.do(http.MethodPost, "/v1/cases/case-e/transitions", step)
		require.Equal(t, http.StatusOK, status)
	}
	status, body = c.do(http.MethodPost, "/v1/cases/case-e/signals", map[string]any{
		"category": "medical", "label": "BMI", "observed": "31", "source": "exam", "confidence": 1,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "terminal_case", body["error"])

	status, _ = c.do(http.MethodGet, "/v1/cases?tier=extreme", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	noActor := client{t: t, base: srv.URL}
	status, body = noActor.do(http.MethodPost, "/v1/cases/case-e/transitions", map[string]any{
		"action": "open", "expected_status": "Declined",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["error"])
}

func TestInvalidJSON(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/v1/cases", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	auth := NewAuthenticator(signingKey, "underwriting")
	srv, _ := newServer(t, WithAuthenticator(auth))

	status, _ := client{t: t, base: srv.URL}.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := client{t: t, base: srv.URL}.do(http.MethodGet, "/v1/cases", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	forged, err := NewAuthenticator("some-other-key-0123456789abcdef", "underwriting").Issue("mallory", time.Minute)
	require.NoError(t, err)
	status, _ = client{t: t, base: srv.URL, headers: map[string]string{"Authorization": "Bearer " + forged}}.
		do(http.MethodGet, "/v1/cases", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := auth.Issue("lee", -time.Minute)
	require.NoError(t, err)
	status, _ = client{t: t, base: srv.URL, headers: map[string]string{"Authorization": "Bearer " + expired}}.
		do(http.MethodGet, "/v1/cases", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := auth.Issue("uw-lee", time.Minute)
	require.NoError(t, err)
	c := client{t: t, base: srv.URL, headers: map[string]string{
		"Authorization": "Bearer " + token,
		ActorHeader:     "someone-else",
	}}
	status, _ = c.do(http.MethodPost, "/v1/cases", map[string]any{"id": "case-a", "profile": profile})
	require.Equal(t, http.StatusCreated, status)
	status, body = c.do(http.MethodPost, "/v1/cases/case-a/transitions", map[string]any{
		"action": "open", "expected_status": "New",
	})
	require.Equal(t, http.StatusOK, status)
	history := body["history"].([]any)
	assert.Equal(t, "uw-lee", history[0].(map[string]any)["actor"])
}

func TestAuthenticatorActor(t *testing.T) {
	auth := NewAuthenticator(signingKey, "")
	token, err := auth.Issue("", time.Minute)
	require.NoError(t, err)
	_, err = auth.Actor(token)
	assert.Error(t, err)

	_, err = auth.Actor("not.a.jwt")
	assert.Error(t, err)

	token, err = auth.Issue("uw-kim", time.Minute)
	require.NoError(t, err)
	actor, err := auth.Actor(token)
	require.NoError(t, err)
	assert.Equal(t, "uw-kim", actor)
}

func TestBatchIngestion(t *testing.T) {
	srv, eng := newServer(t)
	c := client{t: t, base: srv.URL, headers: map[string]string{ActorHeader: "intake"}}

	status, _ := c.do(http.MethodPost, "/v1/cases", map[string]any{"id": "case-b", "profile": profile})
	require.Equal(t, http.StatusCreated, status)

	batch := []map[string]any{
		{"case_id": "case-b", "id": "bp", "category": "medical", "label": "Systolic BP", "observed": "135", "source": "ehr", "confidence": 1},
		{"id": "orphan", "category": "medical", "label": "BMI", "observed": "20", "source": "ehr", "confidence": 1},
	}
	req, err := json.Marshal(batch)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/signals/batch", "application/json", bytes.NewReader(req))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1.0, out["queued"])
	assert.Equal(t, 1.0, out["rejected"])

	assert.Eventually(t, func() bool {
		cs, err := eng.GetCase(context.Background(), "case-b")
		return err == nil && len(cs.Signals) == 1
	}, 2*time.Second, 10*time.Millisecond)

	big := make([]map[string]any, maxBatchSize+1)
	for i := range big {
		big[i] = batch[0]
	}
	req, err = json.Marshal(big)
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/v1/signals/batch", "application/json", bytes.NewReader(req))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolicyEndpoints(t *testing.T) {
	srv, eng := newServer(t)
	c := client{t: t, base: srv.URL}

	status, body := c.do(http.MethodGet, "/v1/policy", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026.10-1", body["version"])

	status, _ = c.do(http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusNotImplemented, status)

	next := *eng.Policy()
	next.Version = "2026.10-2"
	srv2, eng2 := newServer(t, WithPolicyReloader(stubReloader{p: &next}))
	status, body = client{t: t, base: srv2.URL}.do(http.MethodPost, "/v1/policy/reload", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026.10-2", body["version"])
	assert.Equal(t, "2026.10-2", eng2.Policy().Version)

	broken := stubReloader{err: domainerrors.New(domainerrors.CodeConfiguration, "weights.medical: missing")}
	srv3, eng3 := newServer(t, WithPolicyReloader(broken))
	status, body = client{t: t, base: srv3.URL}.do(http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "configuration_error", body["error"])
	assert.Equal(t, "2026.10-1", eng3.Policy().Version)
}

func TestProbes(t *testing.T) {
	srv, _ := newServer(t)
	c := client{t: t, base: srv.URL}

	status, body := c.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := map[domainerrors.Code]int{
		domainerrors.CodeValidation:             http.StatusBadRequest,
		domainerrors.CodeInvalidTransition:      http.StatusConflict,
		domainerrors.CodeTerminalCase:           http.StatusConflict,
		domainerrors.CodeConcurrentModification: http.StatusConflict,
		domainerrors.CodeConfiguration:          http.StatusInternalServerError,
		domainerrors.CodeUnknownCase:            http.StatusNotFound,
		domainerrors.CodeInternal:               http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
