package unifiedllm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleDeveloper Role = "developer"
)

// BlockKind is the discriminator tag for ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockReasoning  BlockKind = "reasoning"
	BlockToolCall   BlockKind = "tool_call"
	BlockToolResult BlockKind = "tool_result"
)

// ReasoningData carries model-side reasoning state. ContinuityToken is opaque:
// it is stored as received and replayed verbatim, never inspected. A nil token
// means the provider returned none. The OpenAI adapter sends the token as a
// JSON string, so it drops reasoning whose token is not valid UTF-8 rather
// than replaying an altered copy.
type ReasoningData struct {
	ID              string   `json:"id,omitempty"`
	ContinuityToken []byte   `json:"continuity_token"`
	Summary         []string `json:"summary,omitempty"`
	Redacted        bool     `json:"redacted,omitempty"`
}

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult answers exactly one ToolCall, matched by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     any    `json:"output"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// OutputString renders the result the way it is shown to a model: failures
// become "Error: <message>", strings pass through, and anything else is JSON.
func (r ToolResult) OutputString() string {
	if !r.Success {
		msg := r.Error
		if msg == "" {
			if s, ok := r.Output.(string); ok {
				msg = s
			}
		}
		if strings.HasPrefix(msg, "Error:") {
			return msg
		}
		return "Error: " + msg
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// ContentBlock is a tagged union representing one part of a message.
// Exactly one payload matching Kind is set.
type ContentBlock struct {
	Kind       BlockKind      `json:"kind"`
	Text       string         `json:"text,omitempty"`
	Reasoning  *ReasoningData `json:"reasoning,omitempty"`
	ToolCall   *ToolCall      `json:"tool_call,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
}

// TextBlock creates a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ReasoningBlock creates a reasoning ContentBlock.
func ReasoningBlock(id string, token []byte, summary ...string) ContentBlock {
	return ContentBlock{
		Kind:      BlockReasoning,
		Reasoning: &ReasoningData{ID: id, ContinuityToken: token, Summary: summary},
	}
}

// ToolCallBlock creates a tool call ContentBlock. A nil args map is replaced
// by an empty one.
func ToolCallBlock(id, name string, args map[string]any) ContentBlock {
	if args == nil {
		args = map[string]any{}
	}
	return ContentBlock{
		Kind:     BlockToolCall,
		ToolCall: &ToolCall{ID: id, Name: name, Arguments: args},
	}
}

// ToolResultBlock creates a tool result ContentBlock.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: &result}
}

// Message is the fundamental unit of conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts content either as a block list or as a plain string,
// which becomes a single text block.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil

	trimmed := strings.TrimSpace(string(raw.Content))
	switch {
	case trimmed == "" || trimmed == "null":
		return nil
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(raw.Content, &text); err != nil {
			return err
		}
		m.Content = []ContentBlock{TextBlock(text)}
		return nil
	default:
		return json.Unmarshal(raw.Content, &m.Content)
	}
}

// TextContent returns all text blocks joined by a blank line.
func (m Message) TextContent() string {
	return joinText(m.Content)
}

// ToolCalls extracts the tool calls carried by the message, in order.
func (m Message) ToolCalls() []ToolCall {
	return collectToolCalls(m.Content)
}

// ToolResults extracts the tool results carried by the message, in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, block := range m.Content {
		if block.Kind == BlockToolResult && block.ToolResult != nil {
			results = append(results, *block.ToolResult)
		}
	}
	return results
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{TextBlock(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage creates an assistant Message from the given blocks.
func AssistantMessage(blocks ...ContentBlock) Message {
	content := make([]ContentBlock, len(blocks))
	copy(content, blocks)
	return Message{Role: RoleAssistant, Content: content}
}

// FunctionMessage creates a function Message answering one tool call.
func FunctionMessage(result ToolResult) Message {
	return Message{Role: RoleFunction, Content: []ContentBlock{ToolResultBlock(result)}}
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the input to ProviderAdapter.Complete. Model, MaxOutputTokens
// and ReasoningEffort override adapter defaults when set.
type ChatRequest struct {
	Messages        []Message  `json:"messages"`
	Tools           []ToolSpec `json:"tools,omitempty"`
	Model           string     `json:"model,omitempty"`
	MaxOutputTokens *int       `json:"max_output_tokens,omitempty"`
	ReasoningEffort string     `json:"reasoning_effort,omitempty"`
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "tool_calls", "content_filter", "other"
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens           int  `json:"input_tokens"`
	OutputTokens          int  `json:"output_tokens"`
	TotalTokens           int  `json:"total_tokens"`
	CachedInputTokens     *int `json:"cached_input_tokens,omitempty"`
	ReasoningOutputTokens *int `json:"reasoning_output_tokens,omitempty"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:           u.InputTokens + other.InputTokens,
		OutputTokens:          u.OutputTokens + other.OutputTokens,
		TotalTokens:           u.TotalTokens + other.TotalTokens,
		CachedInputTokens:     addOptionalInt(u.CachedInputTokens, other.CachedInputTokens),
		ReasoningOutputTokens: addOptionalInt(u.ReasoningOutputTokens, other.ReasoningOutputTokens),
	}
}

func addOptionalInt(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	va, vb := 0, 0
	if a != nil {
		va = *a
	}
	if b != nil {
		vb = *b
	}
	sum := va + vb
	return &sum
}

// ChatResponse is the canonical output of ProviderAdapter.Complete.
type ChatResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Content      []ContentBlock `json:"content"`
	Usage        Usage          `json:"usage"`
	FinishReason FinishReason   `json:"finish_reason"`
}

// Text returns the response's text blocks joined by a blank line.
func (r ChatResponse) Text() string {
	return joinText(r.Content)
}

// ToolCalls returns the tool calls in the order the provider emitted them.
func (r ChatResponse) ToolCalls() []ToolCall {
	return collectToolCalls(r.Content)
}

// HasReasoning reports whether any reasoning block is present.
func (r ChatResponse) HasReasoning() bool {
	for _, block := range r.Content {
		if block.Kind == BlockReasoning {
			return true
		}
	}
	return false
}

func joinText(blocks []ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		if block.Kind == BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func collectToolCalls(blocks []ContentBlock) []ToolCall {
	var calls []ToolCall
	for _, block := range blocks {
		if block.Kind == BlockToolCall && block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}
