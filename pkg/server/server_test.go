package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/circuit"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/debt"
	"mercator-hq/gatekeeper/pkg/gate"
	"mercator-hq/gatekeeper/pkg/policy/engine"
	"mercator-hq/gatekeeper/pkg/session"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

type fakeDecider struct {
	resp       *gate.Response
	err        error
	outcomeErr error
	gotReq     gate.Request
	gotReqID   string
	panicOn    string
}

func (f *fakeDecider) Decide(ctx context.Context, req gate.Request) (*gate.Response, error) {
	if req.Action == f.panicOn && f.panicOn != "" {
		panic("boom")
	}
	f.gotReq = req
	f.gotReqID = logging.RequestID(ctx)
	return f.resp, f.err
}

func (f *fakeDecider) RecordOutcome(_ context.Context, rep gate.OutcomeReport) (*gate.OutcomeResult, error) {
	if f.outcomeErr != nil {
		return nil, f.outcomeErr
	}
	return &gate.OutcomeResult{Circuit: "tests", CircuitState: "closed", Trust: 52, ScoreDelta: 2}, nil
}

type fakeSessions map[string]*session.Session

func (f fakeSessions) Get(_ context.Context, id string) (*session.Session, bool) {
	s, ok := f[id]
	return s, ok
}

type fakeCircuits struct{}

func (fakeCircuits) Status(_ context.Context, name string) circuit.Snapshot {
	return circuit.Snapshot{Name: name, State: circuit.StateOpen, ConsecutiveFailures: 3, Threshold: 3}
}

func (fakeCircuits) All(ctx context.Context) []circuit.Snapshot {
	return []circuit.Snapshot{fakeCircuits{}.Status(ctx, "build")}
}

type fakeDebt struct {
	err error
}

func (f fakeDebt) Outstanding(context.Context) ([]debt.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []debt.Record{{ID: "d1", RuleID: "no-force-push"}}, nil
}

func (fakeDebt) All(context.Context) []debt.Record {
	return []debt.Record{{ID: "d1", RuleID: "no-force-push"}, {ID: "d0", RuleID: "tests-first", Paid: true}}
}

func newTestServer(t *testing.T, d *fakeDecider, mutate func(*Dependencies, *config.ServerConfig)) *Server {
	t.Helper()
	cfg := config.ServerConfig{ListenAddress: "127.0.0.1:0", MaxBodyBytes: 1024}
	deps := Dependencies{
		Decider:  d,
		Sessions: fakeSessions{"s1": {ID: "s1", Trust: 64, Turn: 7}},
		Circuits: fakeCircuits{},
		Debt:     fakeDebt{},
		Health:   health.New(time.Second),
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	s, err := New(cfg, deps, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, w.Body.String())
	}
	return resp.Error
}

func TestNew_RequiresDecider(t *testing.T) {
	if _, err := New(config.ServerConfig{}, Dependencies{}); err == nil {
		t.Error("New() without decider should fail")
	}
}

func TestDecide(t *testing.T) {
	d := &fakeDecider{resp: &gate.Response{Decision: engine.DecisionDeny, Reason: "[no-force-push] blocked"}}
	h := newTestServer(t, d, nil).Handler()

	w := do(t, h, http.MethodPost, "/v1/decide", `{"action":"bash","sessionId":"s1","turn":4,"parameters":{"command":"git push -f"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp gate.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision != engine.DecisionDeny || resp.Reason != "[no-force-push] blocked" {
		t.Errorf("response = %+v", resp)
	}
	if d.gotReq.SessionID != "s1" || d.gotReq.Turn != 4 || d.gotReq.Parameters["command"] != "git push -f" {
		t.Errorf("decider got %+v", d.gotReq)
	}
	if w.Header().Get(EngineFailureHeader) != "" {
		t.Error("engine failure header set on a normal decision")
	}
}

func TestDecide_EngineFailure(t *testing.T) {
	d := &fakeDecider{
		resp: &gate.Response{Decision: engine.DecisionDeny, Reason: "engine failure, failing closed"},
		err:  &gate.EngineError{Stage: "state", Cause: errors.New("lock timeout")},
	}
	h := newTestServer(t, d, nil).Handler()

	w := do(t, h, http.MethodPost, "/v1/decide", `{"action":"write","sessionId":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get(EngineFailureHeader); got != "state" {
		t.Errorf("%s = %q, want state", EngineFailureHeader, got)
	}
	var resp gate.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision != engine.DecisionDeny {
		t.Errorf("decision = %s, want deny", resp.Decision)
	}
}

func TestDecide_BadBodies(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty", "", http.StatusBadRequest, CodeInvalidRequest},
		{"malformed", `{"action":`, http.StatusBadRequest, CodeInvalidRequest},
		{"two documents", `{"action":"a"} {"action":"b"}`, http.StatusBadRequest, CodeInvalidRequest},
		{"too large", `{"action":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge, CodeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDecider{resp: &gate.Response{Decision: engine.DecisionAllow}}
			h := newTestServer(t, d, nil).Handler()
			w := do(t, h, http.MethodPost, "/v1/decide", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if got := decodeError(t, w); got.Code != tt.code {
				t.Errorf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}
}

func TestDecide_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeDecider{}, nil).Handler()
	if w := do(t, h, http.MethodGet, "/v1/decide", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/decide status = %d, want 405", w.Code)
	}
}

func TestOutcome(t *testing.T) {
	t.Run("recorded", func(t *testing.T) {
		h := newTestServer(t, &fakeDecider{}, nil).Handler()
		w := do(t, h, http.MethodPost, "/v1/outcome", `{"action":"bash","sessionId":"s1","success":true}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var res gate.OutcomeResult
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.Trust != 52 || res.Circuit != "tests" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		d := &fakeDecider{outcomeErr: fmt.Errorf("%w: sessionId is required", gate.ErrInvalidRequest)}
		h := newTestServer(t, d, nil).Handler()
		w := do(t, h, http.MethodPost, "/v1/outcome", `{"action":"bash"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		d := &fakeDecider{outcomeErr: errors.New("disk full")}
		h := newTestServer(t, d, nil).Handler()
		w := do(t, h, http.MethodPost, "/v1/outcome", `{"action":"bash","sessionId":"s1"}`)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
		if got := decodeError(t, w); strings.Contains(got.Message, "disk full") {
			t.Errorf("internal error leaked to client: %q", got.Message)
		}
	})
}

func TestInspection(t *testing.T) {
	h := newTestServer(t, &fakeDecider{}, nil).Handler()

	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"session", "/v1/sessions/s1", http.StatusOK, `"trust":64`},
		{"unknown session", "/v1/sessions/nope", http.StatusNotFound, CodeNotFound},
		{"circuit", "/v1/circuits/build", http.StatusOK, `"state":"open"`},
		{"circuits", "/v1/circuits", http.StatusOK, `"name":"build"`},
		{"outstanding debt", "/v1/debt", http.StatusOK, `"id":"d1"`},
		{"all debt", "/v1/debt?all=true", http.StatusOK, `"id":"d0"`},
		{"bad debt query", "/v1/debt?all=maybe", http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body %s does not contain %s", w.Body.String(), tt.want)
			}
		})
	}

	if w := do(t, h, http.MethodGet, "/v1/debt", ""); strings.Contains(w.Body.String(), `"id":"d0"`) {
		t.Error("outstanding debt listing includes paid records")
	}
}

func TestInspection_NotConfigured(t *testing.T) {
	h := newTestServer(t, &fakeDecider{}, func(d *Dependencies, _ *config.ServerConfig) {
		d.Sessions, d.Circuits, d.Debt = nil, nil, nil
	}).Handler()
	for _, path := range []string{"/v1/sessions/s1", "/v1/circuits/build", "/v1/circuits", "/v1/debt"} {
		if w := do(t, h, http.MethodGet, path, ""); w.Code != http.StatusNotImplemented {
			t.Errorf("GET %s status = %d, want 501", path, w.Code)
		}
	}
}

func TestDebt_ListFailure(t *testing.T) {
	h := newTestServer(t, &fakeDecider{}, func(d *Dependencies, _ *config.ServerConfig) {
		d.Debt = fakeDebt{err: errors.New("ledger unreadable")}
	}).Handler()
	if w := do(t, h, http.MethodGet, "/v1/debt", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	d := &fakeDecider{resp: &gate.Response{Decision: engine.DecisionAllow}}
	h := newTestServer(t, d, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", strings.NewReader(`{"action":"read","sessionId":"s1"}`))
	req.Header.Set(RequestIDHeader, "caller-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "caller-42" {
		t.Errorf("echoed request id = %q, want caller-42", got)
	}
	if d.gotReqID != "caller-42" {
		t.Errorf("context request id = %q, want caller-42", d.gotReqID)
	}

	w = do(t, h, http.MethodPost, "/v1/decide", `{"action":"read","sessionId":"s1"}`)
	generated := w.Header().Get(RequestIDHeader)
	if generated == "" || generated == "caller-42" {
		t.Errorf("generated request id = %q", generated)
	}
	if d.gotReqID != generated {
		t.Errorf("context request id = %q, want %q", d.gotReqID, generated)
	}
}

func TestRecovery(t *testing.T) {
	d := &fakeDecider{panicOn: "explode"}
	h := newTestServer(t, d, nil).Handler()
	w := do(t, h, http.MethodPost, "/v1/decide", `{"action":"explode","sessionId":"s1"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decodeError(t, w); got.Code != CodeInternal || got.RequestID == "" {
		t.Errorf("error = %+v", got)
	}
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	metricsHit := false
	h := newTestServer(t, &fakeDecider{}, func(d *Dependencies, _ *config.ServerConfig) {
		d.Health.Register("state", func(context.Context) error { return nil })
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			metricsHit = true
			_, _ = w.Write([]byte("# EOF\n"))
		})
	}).Handler()

	if w := do(t, h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Errorf("/ready status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/version", ""); !strings.Contains(w.Body.String(), `"version":"dev"`) {
		t.Errorf("/version body = %s", w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !metricsHit {
		t.Errorf("/metrics status = %d, hit = %v", w.Code, metricsHit)
	}
}

func TestStartShutdown(t *testing.T) {
	checker := health.New(time.Second)
	s := newTestServer(t, &fakeDecider{resp: &gate.Response{Decision: engine.DecisionAllow}},
		func(d *Dependencies, cfg *config.ServerConfig) {
			d.Health = checker
			cfg.ShutdownTimeout = 2 * time.Second
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after start")
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
	if st := checker.Readiness(context.Background()); st.Status != health.StatusDraining {
		t.Errorf("readiness after shutdown = %s, want draining", st.Status)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("repeated Shutdown() = %v", err)
	}
}

func TestStart_ListenError(t *testing.T) {
	s := newTestServer(t, &fakeDecider{}, func(_ *Dependencies, cfg *config.ServerConfig) {
		cfg.ListenAddress = "256.0.0.1:bad"
	})
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() with a bad address should fail")
	}
}
