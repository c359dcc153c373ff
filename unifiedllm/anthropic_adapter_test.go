package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/martinemde/agentcore/logging"
)

const sampleMessagesReply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "thinking", "thinking": "need the file", "signature": "c2lnLTE="},
    {"type": "redacted_thinking", "data": "opaque-blob"},
    {"type": "text", "text": "Reading it now."},
    {"type": "tool_use", "id": "toolu_01", "name": "read_file", "input": {"path": "go.mod"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 40, "output_tokens": 12, "cache_read_input_tokens": 8}
}`

func TestNewAnthropicAdapterRequiresKey(t *testing.T) {
	_, err := NewAnthropicAdapter(AnthropicConfig{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestBuildAnthropicParams(t *testing.T) {
	req := ChatRequest{
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("look at two files"),
			AssistantMessage(
				ReasoningBlock("", []byte("sig-1"), "thinking text"),
				ReasoningBlock("", nil, "unsigned"),
				ToolCallBlock("toolu_a", "read_file", map[string]any{"path": "a"}),
				ToolCallBlock("toolu_b", "read_file", map[string]any{"path": "b"}),
			),
			FunctionMessage(ToolResult{ToolCallID: "toolu_a", Output: "A", Success: true}),
			FunctionMessage(ToolResult{ToolCallID: "toolu_b", Error: "missing"}),
		},
		Tools: []ToolSpec{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
		}},
	}

	params, err := buildAnthropicParams(req, "claude-sonnet-4-5", 1024, 0, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("system prompt not hoisted: %+v", params.System)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected user/assistant/user, got %d messages", len(params.Messages))
	}

	assistant := params.Messages[1]
	if len(assistant.Content) != 3 {
		t.Fatalf("expected thinking + 2 tool_use blocks, got %d", len(assistant.Content))
	}
	thinking := assistant.Content[0].OfThinking
	if thinking == nil || thinking.Signature != "sig-1" || thinking.Thinking != "thinking text" {
		t.Errorf("thinking block not replayed verbatim: %+v", thinking)
	}

	results := params.Messages[2]
	if results.Role != anthropic.MessageParamRoleUser || len(results.Content) != 2 {
		t.Fatalf("tool results should share one user message, got %+v", results)
	}
	if tr := results.Content[1].OfToolResult; tr == nil || tr.ToolUseID != "toolu_b" || !tr.IsError.Value {
		t.Errorf("failed result not flagged: %+v", tr)
	}

	if len(params.Tools) != 1 || params.Tools[0].OfTool == nil {
		t.Fatalf("expected one tool, got %+v", params.Tools)
	}
	if got := params.Tools[0].OfTool.InputSchema.Required; len(got) != 1 || got[0] != "path" {
		t.Errorf("required = %v", got)
	}
}

func TestBuildAnthropicParamsThinkingBudget(t *testing.T) {
	params, err := buildAnthropicParams(ChatRequest{Messages: []Message{UserMessage("hi")}}, "m", 1000, 4000, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if params.MaxTokens <= 4000 {
		t.Errorf("max tokens %d must exceed the thinking budget", params.MaxTokens)
	}
	if params.Thinking.OfEnabled == nil || params.Thinking.OfEnabled.BudgetTokens != 4000 {
		t.Errorf("thinking not enabled: %+v", params.Thinking)
	}
}

func TestBuildAnthropicParamsWithoutTools(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		UserMessage("read a"),
		AssistantMessage(
			TextBlock("reading"),
			ToolCallBlock("toolu_a", "read_file", map[string]any{"path": "a"}),
		),
		FunctionMessage(ToolResult{ToolCallID: "toolu_a", Output: "A", Success: true}),
		UserMessage("summarize now"),
	}}

	params, err := buildAnthropicParams(req, "m", 100, 0, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(params.Tools) != 0 {
		t.Fatalf("tools = %+v, want none", params.Tools)
	}
	for i, m := range params.Messages {
		for _, b := range m.Content {
			if b.OfToolUse != nil || b.OfToolResult != nil {
				t.Errorf("message %d still carries a tool block: %+v", i, b)
			}
		}
	}

	if len(params.Messages) != 3 {
		t.Fatalf("expected user/assistant/user, got %d messages", len(params.Messages))
	}
	call := params.Messages[1].Content[1].OfText
	if call == nil || call.Text != `[called tool read_file (toolu_a) with {"path":"a"}]` {
		t.Errorf("tool call text = %+v", call)
	}
	last := params.Messages[2].Content
	if len(last) != 2 || last[0].OfText == nil || last[0].OfText.Text != "[result of toolu_a]\nA" {
		t.Errorf("tool result text = %+v", last)
	}
	if last[1].OfText == nil || last[1].OfText.Text != "summarize now" {
		t.Errorf("prompt not merged after the result: %+v", last)
	}
}

func TestParseAnthropicMessage(t *testing.T) {
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(sampleMessagesReply), &msg); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	resp := parseAnthropicMessage(&msg, "anthropic", logging.Discard())
	if len(resp.Content) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(resp.Content))
	}

	r := resp.Content[0].Reasoning
	if r == nil || string(r.ContinuityToken) != "c2lnLTE=" || r.Summary[0] != "need the file" {
		t.Errorf("thinking block = %+v", r)
	}
	if red := resp.Content[1].Reasoning; red == nil || !red.Redacted || string(red.ContinuityToken) != "opaque-blob" {
		t.Errorf("redacted block = %+v", red)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "toolu_01" || calls[0].Arguments["path"] != "go.mod" {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("finish = %+v", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 52 || resp.Usage.CachedInputTokens == nil || *resp.Usage.CachedInputTokens != 8 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	// Replaying the parsed blocks must reproduce the signature byte for byte.
	params, err := buildAnthropicParams(ChatRequest{Messages: []Message{
		UserMessage("go"),
		AssistantMessage(resp.Content...),
	}}, "m", 100, 0, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	replayed := params.Messages[1].Content
	if replayed[0].OfThinking == nil || replayed[0].OfThinking.Signature != "c2lnLTE=" {
		t.Errorf("signature not replayed: %+v", replayed[0])
	}
	if replayed[1].OfRedactedThinking == nil || replayed[1].OfRedactedThinking.Data != "opaque-blob" {
		t.Errorf("redacted data not replayed: %+v", replayed[1])
	}
}

func TestAnthropicAdapterComplete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, sampleMessagesReply)
	}))
	defer srv.Close()

	adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	resp, err := adapter.Complete(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Provider != "anthropic" || resp.Text() != "Reading it now." {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotBody["model"] != "claude-sonnet-4-5" {
		t.Errorf("default model not sent: %v", gotBody["model"])
	}
}

func TestAnthropicAdapterErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = adapter.Complete(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T %v", err, err)
	}
	if !IsRetryable(err) {
		t.Error("rate limit should be retryable")
	}
}
