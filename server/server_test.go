package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/martinemde/agentcore/agentloop"
	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/unifiedllm"
)

// stubAdapter replies with fixed text or a fixed error.
type stubAdapter struct {
	text string
	err  error
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) Complete(_ context.Context, req unifiedllm.ChatRequest) (*unifiedllm.ChatResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &unifiedllm.ChatResponse{
		Content:      []unifiedllm.ContentBlock{unifiedllm.TextBlock(a.text)},
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
		Usage:        unifiedllm.Usage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4},
	}, nil
}

func newTestServer(t *testing.T, adapter unifiedllm.ProviderAdapter) *Server {
	t.Helper()
	client := unifiedllm.NewClient()
	if adapter != nil {
		client = unifiedllm.NewClient(unifiedllm.WithProvider(adapter))
	}
	factory := func(_ context.Context, id string) (*agentloop.Session, error) {
		return agentloop.NewSession(client, agentloop.WithSessionID(id), agentloop.WithLogger(logging.Discard())), nil
	}
	srv, err := New(":0", factory, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{text: "4"})

	rec := do(t, srv, http.MethodPost, "/v1/sessions/s1/messages", `{"prompt":"2+2?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body)
	}
	var result agentloop.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "4" || result.Outcome != agentloop.OutcomeCompleted || result.Usage.TotalTokens != 4 {
		t.Errorf("result = %+v", result)
	}

	rec = do(t, srv, http.MethodGet, "/v1/sessions/s1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript = %d %s", rec.Code, rec.Body)
	}
	var transcript transcriptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &transcript); err != nil {
		t.Fatal(err)
	}
	if transcript.SessionID != "s1" || len(transcript.Messages) != 2 {
		t.Errorf("transcript = %+v", transcript)
	}

	if rec = do(t, srv, http.MethodDelete, "/v1/sessions/s1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec = do(t, srv, http.MethodGet, "/v1/sessions/s1/messages", ""); rec.Code != http.StatusNotFound {
		t.Errorf("transcript after delete = %d", rec.Code)
	}
	if rec = do(t, srv, http.MethodDelete, "/v1/sessions/s1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec.Code)
	}
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name     string
		adapter  unifiedllm.ProviderAdapter
		body     string
		wantCode int
		wantType string
	}{
		{"empty body", &stubAdapter{text: "x"}, "", http.StatusBadRequest, "invalid_request_error"},
		{"bad json", &stubAdapter{text: "x"}, "{", http.StatusBadRequest, "invalid_request_error"},
		{"blank prompt", &stubAdapter{text: "x"}, `{"prompt":"  "}`, http.StatusBadRequest, "invalid_request_error"},
		{"two objects", &stubAdapter{text: "x"}, `{"prompt":"a"}{"prompt":"b"}`, http.StatusBadRequest, "invalid_request_error"},
		{"no provider", nil, `{"prompt":"hi"}`, http.StatusServiceUnavailable, "configuration_error"},
		{"auth failure", &stubAdapter{err: unifiedllm.ErrorFromStatusCode(401, "bad key", "stub", "", nil, nil)},
			`{"prompt":"hi"}`, http.StatusBadGateway, "upstream_error"},
		{"rate limited", &stubAdapter{err: unifiedllm.ErrorFromStatusCode(429, "slow down", "stub", "", nil, nil)},
			`{"prompt":"hi"}`, http.StatusServiceUnavailable, "upstream_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, tt.adapter), http.MethodPost, "/v1/sessions/x/messages", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("type = %q, want %q", body.Error.Type, tt.wantType)
			}
		})
	}
}

func TestFactoryError(t *testing.T) {
	factory := func(context.Context, string) (*agentloop.Session, error) {
		return nil, unifiedllm.NewConfigurationError("redis unavailable")
	}
	srv, err := New(":0", factory, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	rec := do(t, srv, http.MethodPost, "/v1/sessions/x/messages", `{"prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}

	if _, err := New(":0", nil, nil); err == nil {
		t.Error("expected an error for a nil factory")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.address = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}
