package unifiedllm

import (
	"bytes"
	"encoding/json"
)

// Wire types for the OpenAI Responses protocol. Input items are a closed set
// of concrete structs so each serializes exactly the fields its type needs.

// WireRequest is the body POSTed to /responses.
type WireRequest struct {
	Model             string              `json:"model"`
	Input             []any               `json:"input"`
	Tools             []WireTool          `json:"tools,omitempty"`
	Reasoning         *WireReasoningParam `json:"reasoning,omitempty"`
	ParallelToolCalls *bool               `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens   *int                `json:"max_output_tokens,omitempty"`
	Include           []string            `json:"include,omitempty"`
	Store             bool                `json:"store"`
	Truncation        string              `json:"truncation,omitempty"`
}

// WireReasoningParam configures reasoning effort and summaries.
type WireReasoningParam struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// WireTool is a function tool definition.
type WireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

// WireRoleMessage is a simple role-tagged input entry.
type WireRoleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WireOutputMessage replays an assistant text block.
type WireOutputMessage struct {
	Type    string            `json:"type"`
	Role    string            `json:"role"`
	Content []WireContentPart `json:"content"`
}

// WireFunctionCall replays a tool call. Arguments is a JSON-encoded object.
type WireFunctionCall struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// WireFunctionCallOutput carries a tool result keyed by call id.
type WireFunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// WireReasoningItem replays reasoning state. EncryptedContent is the
// continuity token, passed through untouched.
type WireReasoningItem struct {
	Type             string            `json:"type"`
	ID               string            `json:"id,omitempty"`
	Summary          []WireSummaryPart `json:"summary"`
	EncryptedContent *string           `json:"encrypted_content,omitempty"`
}

// WireContentPart is one part of a message's content.
type WireContentPart struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Refusal     string          `json:"refusal,omitempty"`
	JSON        json.RawMessage `json:"json,omitempty"`
	Annotations []any           `json:"annotations,omitempty"`
}

// WireSummaryPart is one reasoning summary entry.
type WireSummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WireResponse is the decoded reply. Usage stays raw because its field names
// depend on Object.
type WireResponse struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Model             string            `json:"model"`
	Status            string            `json:"status"`
	Output            []WireOutputItem  `json:"output"`
	Usage             json.RawMessage   `json:"usage"`
	IncompleteDetails *WireIncomplete   `json:"incomplete_details"`
	Error             *WireErrorPayload `json:"error"`
}

// WireIncomplete explains a non-completed status.
type WireIncomplete struct {
	Reason string `json:"reason"`
}

// WireErrorPayload is an in-band error reported with a 200 status.
type WireErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WireOutputItem is any item in the response's output array, discriminated
// by Type.
type WireOutputItem struct {
	Type             string            `json:"type"`
	ID               string            `json:"id"`
	Role             string            `json:"role,omitempty"`
	Status           string            `json:"status,omitempty"`
	Content          []WireContentPart `json:"content,omitempty"`
	Summary          []WireSummaryPart `json:"summary,omitempty"`
	EncryptedContent *string           `json:"encrypted_content,omitempty"`
	CallID           string            `json:"call_id,omitempty"`
	Name             string            `json:"name,omitempty"`
	Arguments        json.RawMessage   `json:"arguments,omitempty"`
	Output           json.RawMessage   `json:"output,omitempty"`
}

// Output item discriminators.
const (
	wireItemMessage            = "message"
	wireItemReasoning          = "reasoning"
	wireItemFunctionCall       = "function_call"
	wireItemFunctionCallOutput = "function_call_output"
)

// Usage schema tags carried in the response's "object" field.
const (
	usageSchemaResponses = "response"
	usageSchemaChat      = "chat.completion"
)

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	TotalTokens        int `json:"total_tokens"`
	InputTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
	OutputTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

type chatUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

// DecodeUsage decodes a usage object according to the schema named by
// object. Unknown or missing tags fall back to probing which field family is
// present; this is the only place that guesses. Missing numbers are zero and
// undecodable input yields a zero Usage.
func DecodeUsage(object string, raw json.RawMessage) Usage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Usage{}
	}

	switch object {
	case usageSchemaResponses:
		return decodeResponsesUsage(raw)
	case usageSchemaChat:
		return decodeChatUsage(raw)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Usage{}
	}
	if _, ok := fields["prompt_tokens"]; ok {
		return decodeChatUsage(raw)
	}
	if _, ok := fields["completion_tokens"]; ok {
		return decodeChatUsage(raw)
	}
	return decodeResponsesUsage(raw)
}

func decodeResponsesUsage(raw json.RawMessage) Usage {
	var u responsesUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return Usage{}
	}
	out := Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
	if u.InputTokensDetails != nil {
		out.CachedInputTokens = intPtr(u.InputTokensDetails.CachedTokens)
	}
	if u.OutputTokensDetails != nil {
		out.ReasoningOutputTokens = intPtr(u.OutputTokensDetails.ReasoningTokens)
	}
	return out
}

func decodeChatUsage(raw json.RawMessage) Usage {
	var u chatUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return Usage{}
	}
	out := Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	if u.PromptTokensDetails != nil {
		out.CachedInputTokens = intPtr(u.PromptTokensDetails.CachedTokens)
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningOutputTokens = intPtr(u.CompletionTokensDetails.ReasoningTokens)
	}
	return out
}

func intPtr(v int) *int { return &v }
