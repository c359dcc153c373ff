package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/martinemde/agentcore/logging"
)

func newTestOpenAIAdapter(t *testing.T, baseURL string) *OpenAIAdapter {
	t.Helper()
	adapter, err := NewOpenAIAdapter(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: baseURL,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewOpenAIAdapter: %v", err)
	}
	return adapter
}

func TestNewOpenAIAdapterRequiresKey(t *testing.T) {
	_, err := NewOpenAIAdapter(OpenAIConfig{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T: %v", err, err)
	}
}

func TestOpenAIAdapterDefaults(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	if adapter.Model() != "gpt-5.1-codex" {
		t.Errorf("expected default model gpt-5.1-codex, got %q", adapter.Model())
	}

	wire, err := adapter.Translate(ChatRequest{
		Messages: []Message{UserMessage("hi")},
		Tools:    []ToolSpec{{Name: "noop", Description: "does nothing"}},
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if wire.Store {
		t.Error("expected store=false")
	}
	if wire.Reasoning == nil || wire.Reasoning.Effort != "medium" || wire.Reasoning.Summary != "auto" {
		t.Errorf("unexpected reasoning param %+v", wire.Reasoning)
	}
	if len(wire.Include) != 1 || wire.Include[0] != "reasoning.encrypted_content" {
		t.Errorf("unexpected include %v", wire.Include)
	}
	if wire.ParallelToolCalls == nil || !*wire.ParallelToolCalls {
		t.Error("expected parallel_tool_calls=true when tools are present")
	}
	if wire.Truncation != "auto" {
		t.Errorf("expected truncation auto, got %q", wire.Truncation)
	}
	if wire.Tools[0].Parameters["type"] != "object" {
		t.Errorf("expected synthesized object schema, got %v", wire.Tools[0].Parameters)
	}
}

func TestOpenAITranslatePreservesBlockOrder(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	token := []byte("gAAAAB-opaque+/=token")

	req := ChatRequest{
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("list files"),
			AssistantMessage(
				ReasoningBlock("rs_1", token, "thinking about files"),
				TextBlock("Let me look."),
				ToolCallBlock("call_a", "glob", map[string]any{"pattern": "*.go"}),
				ToolCallBlock("call_b", "read_file", nil),
			),
			FunctionMessage(ToolResult{ToolCallID: "call_a", Output: "main.go", Success: true}),
			FunctionMessage(ToolResult{ToolCallID: "call_b", Success: false, Error: "permission denied"}),
		},
	}

	wire, err := adapter.Translate(req)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(wire.Input) != 8 {
		t.Fatalf("expected 8 input items, got %d: %#v", len(wire.Input), wire.Input)
	}

	if m, ok := wire.Input[0].(WireRoleMessage); !ok || m.Role != "system" || m.Content != "be brief" {
		t.Errorf("item 0: unexpected %#v", wire.Input[0])
	}
	if m, ok := wire.Input[1].(WireRoleMessage); !ok || m.Role != "user" {
		t.Errorf("item 1: unexpected %#v", wire.Input[1])
	}

	r, ok := wire.Input[2].(WireReasoningItem)
	if !ok {
		t.Fatalf("item 2: expected reasoning, got %T", wire.Input[2])
	}
	if r.ID != "rs_1" || r.EncryptedContent == nil || *r.EncryptedContent != string(token) {
		t.Errorf("reasoning item lost its continuity token: %+v", r)
	}
	if len(r.Summary) != 1 || r.Summary[0].Type != "summary_text" {
		t.Errorf("unexpected summary %+v", r.Summary)
	}

	if m, ok := wire.Input[3].(WireOutputMessage); !ok || m.Content[0].Text != "Let me look." || m.Content[0].Type != "output_text" {
		t.Errorf("item 3: unexpected %#v", wire.Input[3])
	}

	fc, ok := wire.Input[4].(WireFunctionCall)
	if !ok || fc.CallID != "call_a" || fc.Name != "glob" {
		t.Fatalf("item 4: unexpected %#v", wire.Input[4])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil || args["pattern"] != "*.go" {
		t.Errorf("unexpected arguments %q", fc.Arguments)
	}
	if fc2 := wire.Input[5].(WireFunctionCall); fc2.Arguments != "{}" {
		t.Errorf("nil arguments should encode as {}, got %q", fc2.Arguments)
	}

	out, ok := wire.Input[6].(WireFunctionCallOutput)
	if !ok || out.CallID != "call_a" || out.Output != "main.go" {
		t.Errorf("item 6: unexpected %#v", wire.Input[6])
	}
	failed := wire.Input[7].(WireFunctionCallOutput)
	if failed.Output != "Error: permission denied" {
		t.Errorf("expected error output, got %q", failed.Output)
	}
}

func TestOpenAITranslateNullContinuityToken(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	wire, err := adapter.Translate(ChatRequest{Messages: []Message{
		AssistantMessage(ReasoningBlock("rs_1", nil)),
	}})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(wire.Input[0])
	if strings.Contains(string(raw), "encrypted_content") {
		t.Errorf("nil token must not be sent, got %s", raw)
	}
	if !strings.Contains(string(raw), `"summary":[]`) {
		t.Errorf("summary must always be present, got %s", raw)
	}
}

func TestOpenAITranslateDropsNonUTF8ContinuityToken(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	wire, err := adapter.Translate(ChatRequest{Messages: []Message{
		UserMessage("hi"),
		AssistantMessage(
			ReasoningBlock("rs_bad", []byte{0xff, 0xfe, 'x'}),
			TextBlock("hello"),
		),
	}})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(wire.Input)
	if strings.Contains(string(raw), "rs_bad") || strings.Contains(string(raw), "encrypted_content") {
		t.Errorf("altered token would be replayed: %s", raw)
	}
	if len(wire.Input) != 2 {
		t.Errorf("expected user message and text item, got %d items", len(wire.Input))
	}
}

func TestOpenAITranslateRejectsUnknownRole(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	_, err := adapter.Translate(ChatRequest{Messages: []Message{{Role: "tool"}}})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidRequestError, got %v", err)
	}
}

const sampleResponsesReply = `{
  "id": "resp_123",
  "object": "response",
  "model": "gpt-5.1-codex",
  "status": "completed",
  "output": [
    {"type": "reasoning", "id": "rs_9", "summary": [{"type": "summary_text", "text": "Need to read a file."}], "encrypted_content": "ENC::abc/def=="},
    {"type": "message", "id": "msg_1", "role": "assistant", "content": [{"type": "output_text", "text": "Reading now.", "annotations": []}]},
    {"type": "function_call", "id": "fc_1", "call_id": "call_1", "name": "read_file", "arguments": "{\"file_path\":\"go.mod\"}"},
    {"type": "function_call", "id": "fc_2", "call_id": "call_1", "name": "shell", "arguments": "not json"},
    {"type": "web_search_call", "id": "ws_1"}
  ],
  "usage": {
    "input_tokens": 120,
    "output_tokens": 30,
    "total_tokens": 150,
    "input_tokens_details": {"cached_tokens": 100},
    "output_tokens_details": {"reasoning_tokens": 12}
  }
}`

func TestOpenAIParse(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	var wire WireResponse
	if err := json.Unmarshal([]byte(sampleResponsesReply), &wire); err != nil {
		t.Fatal(err)
	}

	resp, err := adapter.Parse(&wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(resp.Content) != 4 {
		t.Fatalf("expected 4 blocks (unknown item skipped), got %d", len(resp.Content))
	}

	wantKinds := []BlockKind{BlockReasoning, BlockText, BlockToolCall, BlockToolCall}
	for i, k := range wantKinds {
		if resp.Content[i].Kind != k {
			t.Errorf("block %d: expected %s, got %s", i, k, resp.Content[i].Kind)
		}
	}

	reasoning := resp.Content[0].Reasoning
	if string(reasoning.ContinuityToken) != "ENC::abc/def==" || reasoning.ID != "rs_9" {
		t.Errorf("unexpected reasoning %+v", reasoning)
	}
	if len(reasoning.Summary) != 1 || reasoning.Summary[0] != "Need to read a file." {
		t.Errorf("unexpected summary %v", reasoning.Summary)
	}

	calls := resp.ToolCalls()
	if calls[0].ID != "call_1" || calls[0].Arguments["file_path"] != "go.mod" {
		t.Errorf("unexpected first call %+v", calls[0])
	}
	if calls[1].ID == "call_1" || !strings.HasPrefix(calls[1].ID, "call_") {
		t.Errorf("duplicate id should be replaced, got %q", calls[1].ID)
	}
	if len(calls[1].Arguments) != 0 {
		t.Errorf("malformed arguments should decode to empty map, got %v", calls[1].Arguments)
	}

	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 30 || resp.Usage.TotalTokens != 150 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if resp.Usage.CachedInputTokens == nil || *resp.Usage.CachedInputTokens != 100 {
		t.Errorf("unexpected cached tokens %v", resp.Usage.CachedInputTokens)
	}
	if resp.Usage.ReasoningOutputTokens == nil || *resp.Usage.ReasoningOutputTokens != 12 {
		t.Errorf("unexpected reasoning tokens %v", resp.Usage.ReasoningOutputTokens)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	if resp.Text() != "Reading now." {
		t.Errorf("unexpected text %q", resp.Text())
	}
}

func TestOpenAIParseInlineObjectArguments(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	resp, err := adapter.Parse(&WireResponse{
		Object: "response",
		Output: []WireOutputItem{{Type: "function_call", CallID: "c1", Name: "x", Arguments: json.RawMessage(`{"n":1}`)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ToolCalls()[0].Arguments["n"] != float64(1) {
		t.Errorf("unexpected args %v", resp.ToolCalls()[0].Arguments)
	}
}

func TestOpenAIParseIncomplete(t *testing.T) {
	adapter := newTestOpenAIAdapter(t, "")
	resp, _ := adapter.Parse(&WireResponse{
		Status:            "incomplete",
		IncompleteDetails: &WireIncomplete{Reason: "max_output_tokens"},
	})
	if resp.FinishReason.Reason != "length" {
		t.Errorf("expected length, got %q", resp.FinishReason.Reason)
	}
}

func TestDecodeUsage(t *testing.T) {
	tests := []struct {
		name   string
		object string
		raw    string
		want   Usage
		cached *int
	}{
		{"responses schema", "response", `{"input_tokens":5,"output_tokens":7,"total_tokens":12}`, Usage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}, nil},
		{"chat schema", "chat.completion", `{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7,"prompt_tokens_details":{"cached_tokens":2}}`, Usage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}, intPtr(2)},
		{"untagged legacy names", "", `{"prompt_tokens":9,"completion_tokens":1}`, Usage{InputTokens: 9, OutputTokens: 1}, nil},
		{"untagged current names", "", `{"input_tokens":2}`, Usage{InputTokens: 2}, nil},
		{"missing", "response", ``, Usage{}, nil},
		{"null", "response", `null`, Usage{}, nil},
		{"garbage", "", `"nope"`, Usage{}, nil},
		{"wrong types", "response", `{"input_tokens":"many"}`, Usage{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeUsage(tt.object, json.RawMessage(tt.raw))
			if got.InputTokens != tt.want.InputTokens || got.OutputTokens != tt.want.OutputTokens || got.TotalTokens != tt.want.TotalTokens {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			switch {
			case tt.cached == nil && got.CachedInputTokens != nil:
				t.Errorf("expected no cached tokens, got %d", *got.CachedInputTokens)
			case tt.cached != nil && (got.CachedInputTokens == nil || *got.CachedInputTokens != *tt.cached):
				t.Errorf("expected cached %d, got %v", *tt.cached, got.CachedInputTokens)
			}
		})
	}
}

func TestOpenAIAdapterCompleteOverHTTP(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.Copy(w, bytes.NewBufferString(sampleResponsesReply))
	}))
	defer srv.Close()

	adapter := newTestOpenAIAdapter(t, srv.URL)
	resp, err := adapter.Complete(context.Background(), ChatRequest{
		Messages: []Message{UserMessage("read go.mod")},
		Tools:    []ToolSpec{{Name: "read_file", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ID != "resp_123" || len(resp.ToolCalls()) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if captured["model"] != "gpt-5.1-codex" || captured["store"] != false {
		t.Errorf("unexpected request body %v", captured)
	}
}

func TestOpenAIAdapterErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test","code":"x"}}`))
			}))
			defer srv.Close()

			adapter := newTestOpenAIAdapter(t, srv.URL)
			_, err := adapter.Complete(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
			if err == nil {
				t.Fatal("expected error")
			}
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				t.Fatalf("expected a status-classified error, got network error: %v", err)
			}
			if !strings.Contains(err.Error(), "status="+strconv.Itoa(tt.status)) {
				t.Errorf("expected status %d in %q", tt.status, err.Error())
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestOpenAIAdapterNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	adapter := newTestOpenAIAdapter(t, url)
	_, err := adapter.Complete(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}
