package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/martinemde/agentcore/logging"
)

// OpenAIConfig configures the Responses API adapter. Zero values take the
// defaults noted on each field.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Organization      string
	Model             string // default: catalog default for "openai"
	ReasoningEffort   string // default "medium"; "none" disables the reasoning block
	ReasoningSummary  string // default "auto"
	MaxOutputTokens   int    // 0 leaves it to the server
	ParallelToolCalls *bool  // default true
	IncludeReasoning  *bool  // default true: request encrypted reasoning for replay
	Truncation        string // default "auto"
	Logger            *slog.Logger
}

// OpenAIAdapter speaks the OpenAI Responses protocol with store=false, so all
// reasoning continuity travels in the request as encrypted_content.
type OpenAIAdapter struct {
	cfg    OpenAIConfig
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIAdapter validates cfg and builds the adapter. A missing API key is
// a ConfigurationError. Extra request options are appended after the
// adapter's own and can override them.
func NewOpenAIAdapter(cfg OpenAIConfig, opts ...option.RequestOption) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, NewConfigurationError("openai: api key is required")
	}
	if cfg.Model == "" {
		if info := DefaultModel("openai"); info != nil {
			cfg.Model = info.ID
		}
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "medium"
	}
	if cfg.ReasoningSummary == "" {
		cfg.ReasoningSummary = "auto"
	}
	if cfg.ParallelToolCalls == nil {
		cfg.ParallelToolCalls = boolPtr(true)
	}
	if cfg.IncludeReasoning == nil {
		cfg.IncludeReasoning = boolPtr(true)
	}
	if cfg.Truncation == "" {
		cfg.Truncation = "auto"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Named("openai")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		clientOpts = append(clientOpts, option.WithOrganization(cfg.Organization))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIAdapter{
		cfg:    cfg,
		client: openai.NewClient(clientOpts...),
		logger: logger,
	}, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Model returns the configured default model.
func (a *OpenAIAdapter) Model() string { return a.cfg.Model }

// Complete translates req, POSTs it to /responses and parses the reply.
func (a *OpenAIAdapter) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wire, err := a.Translate(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "encode request", Cause: err}, Provider: a.Name(),
		}}
	}

	var resp WireResponse
	if err := a.client.Post(ctx, "responses", json.RawMessage(payload), &resp); err != nil {
		return nil, a.translateError(err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: resp.Error.Message},
			Provider:  a.Name(),
			ErrorCode: resp.Error.Code,
		}
	}
	return a.Parse(&resp)
}

// Translate converts a canonical request into the Responses wire shape.
// Assistant messages expand block by block in their original order.
func (a *OpenAIAdapter) Translate(req ChatRequest) (*WireRequest, error) {
	model := a.cfg.Model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}

	wire := &WireRequest{
		Model:      model,
		Input:      make([]any, 0, len(req.Messages)),
		Store:      false,
		Truncation: a.cfg.Truncation,
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser, RoleSystem, RoleDeveloper:
			wire.Input = append(wire.Input, WireRoleMessage{Role: string(msg.Role), Content: msg.TextContent()})
		case RoleAssistant:
			for _, block := range msg.Content {
				item, ok := a.translateAssistantBlock(block)
				if ok {
					wire.Input = append(wire.Input, item)
				}
			}
		case RoleFunction:
			for _, result := range msg.ToolResults() {
				wire.Input = append(wire.Input, functionCallOutput(result))
			}
		default:
			return nil, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: "unsupported message role " + strconv.Quote(string(msg.Role))},
				Provider: a.Name(),
			}}
		}
	}

	for _, spec := range req.Tools {
		wire.Tools = append(wire.Tools, WireTool{
			Type:        "function",
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  NormalizeToolSchema(spec.Parameters),
		})
	}
	if len(wire.Tools) > 0 {
		wire.ParallelToolCalls = a.cfg.ParallelToolCalls
	}

	effort := a.cfg.ReasoningEffort
	if req.ReasoningEffort != "" {
		effort = req.ReasoningEffort
	}
	if effort != "none" {
		wire.Reasoning = &WireReasoningParam{Effort: effort, Summary: a.cfg.ReasoningSummary}
		if *a.cfg.IncludeReasoning {
			wire.Include = []string{"reasoning.encrypted_content"}
		}
	}

	switch {
	case req.MaxOutputTokens != nil:
		wire.MaxOutputTokens = req.MaxOutputTokens
	case a.cfg.MaxOutputTokens > 0:
		wire.MaxOutputTokens = intPtr(a.cfg.MaxOutputTokens)
	}

	return wire, nil
}

func (a *OpenAIAdapter) translateAssistantBlock(block ContentBlock) (any, bool) {
	switch block.Kind {
	case BlockText:
		return WireOutputMessage{
			Type: wireItemMessage,
			Role: string(RoleAssistant),
			Content: []WireContentPart{{
				Type:        "output_text",
				Text:        block.Text,
				Annotations: []any{},
			}},
		}, true
	case BlockToolCall:
		if block.ToolCall == nil {
			return nil, false
		}
		args := block.ToolCall.Arguments
		if args == nil {
			args = map[string]any{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			a.logger.Warn("tool call arguments not encodable", "call_id", block.ToolCall.ID, "error", err)
			encoded = []byte("{}")
		}
		return WireFunctionCall{
			Type:      wireItemFunctionCall,
			CallID:    block.ToolCall.ID,
			Name:      block.ToolCall.Name,
			Arguments: string(encoded),
		}, true
	case BlockReasoning:
		if block.Reasoning == nil {
			return nil, false
		}
		if !utf8.Valid(block.Reasoning.ContinuityToken) {
			a.logger.Warn("dropping reasoning item with non-UTF-8 continuity token", "id", block.Reasoning.ID)
			return nil, false
		}
		item := WireReasoningItem{
			Type:    wireItemReasoning,
			ID:      block.Reasoning.ID,
			Summary: make([]WireSummaryPart, 0, len(block.Reasoning.Summary)),
		}
		for _, s := range block.Reasoning.Summary {
			item.Summary = append(item.Summary, WireSummaryPart{Type: "summary_text", Text: s})
		}
		if block.Reasoning.ContinuityToken != nil {
			token := string(block.Reasoning.ContinuityToken)
			item.EncryptedContent = &token
		}
		return item, true
	case BlockToolResult:
		if block.ToolResult == nil {
			return nil, false
		}
		return functionCallOutput(*block.ToolResult), true
	default:
		a.logger.Warn("dropping unknown content block", "kind", block.Kind)
		return nil, false
	}
}

func functionCallOutput(result ToolResult) WireFunctionCallOutput {
	return WireFunctionCallOutput{
		Type:   wireItemFunctionCallOutput,
		CallID: result.ToolCallID,
		Output: result.OutputString(),
	}
}

// Parse converts a decoded Responses reply into canonical blocks, preserving
// output order. Unknown item types are logged and skipped.
func (a *OpenAIAdapter) Parse(resp *WireResponse) (*ChatResponse, error) {
	out := &ChatResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Usage:    DecodeUsage(resp.Object, resp.Usage),
	}
	seen := make(map[string]bool)

	for _, item := range resp.Output {
		switch item.Type {
		case wireItemMessage:
			for _, part := range item.Content {
				switch part.Type {
				case "output_text", "text":
					out.Content = append(out.Content, TextBlock(part.Text))
				case "refusal":
					out.Content = append(out.Content, TextBlock(part.Refusal))
				case "output_json":
					out.Content = append(out.Content, TextBlock(string(part.JSON)))
				default:
					a.logger.Debug("skipping message part", "type", part.Type)
				}
			}
		case wireItemReasoning:
			var summary []string
			for _, s := range item.Summary {
				if s.Text != "" {
					summary = append(summary, s.Text)
				}
			}
			if len(summary) == 0 {
				for _, c := range item.Content {
					if c.Text != "" {
						summary = append(summary, c.Text)
					}
				}
			}
			var token []byte
			if item.EncryptedContent != nil {
				token = []byte(*item.EncryptedContent)
			}
			out.Content = append(out.Content, ReasoningBlock(item.ID, token, summary...))
		case wireItemFunctionCall:
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			if id == "" || seen[id] {
				id = "call_" + uuid.NewString()
			}
			seen[id] = true
			out.Content = append(out.Content, ToolCallBlock(id, item.Name, a.decodeArguments(id, item.Arguments)))
		case wireItemFunctionCallOutput:
			out.Content = append(out.Content, ToolResultBlock(ToolResult{
				ToolCallID: item.CallID,
				Output:     decodeLoose(item.Output),
				Success:    true,
			}))
		default:
			a.logger.Warn("ignoring unknown output item", "type", item.Type, "id", item.ID)
		}
	}

	out.FinishReason = finishReasonFor(resp, len(out.ToolCalls()) > 0)
	return out, nil
}

// decodeArguments accepts either a JSON-encoded string (the normal wire form)
// or an inline object. Anything that is not an object becomes an empty map.
func (a *OpenAIAdapter) decodeArguments(callID string, raw json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			a.logger.Warn("malformed tool arguments", "call_id", callID, "error", err)
			return map[string]any{}
		}
		if s == "" {
			return map[string]any{}
		}
		trimmed = []byte(s)
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil || args == nil {
		a.logger.Warn("malformed tool arguments", "call_id", callID, "raw", string(trimmed))
		return map[string]any{}
	}
	return args
}

func decodeLoose(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func finishReasonFor(resp *WireResponse, hasToolCalls bool) FinishReason {
	switch resp.Status {
	case "incomplete":
		reason := "other"
		if resp.IncompleteDetails != nil {
			switch resp.IncompleteDetails.Reason {
			case "max_output_tokens":
				reason = "length"
			case "content_filter":
				reason = "content_filter"
			}
		}
		return FinishReason{Reason: reason, Raw: resp.Status}
	case "failed", "cancelled":
		return FinishReason{Reason: "other", Raw: resp.Status}
	}
	if hasToolCalls {
		return FinishReason{Reason: "tool_calls", Raw: resp.Status}
	}
	return FinishReason{Reason: "stop", Raw: resp.Status}
}

// translateError classifies SDK failures. API errors map by status code;
// cancellation passes through untouched; everything else is a network error.
func (a *OpenAIAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		var retryAfter *float64
		if apiErr.Response != nil {
			if v, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil {
				retryAfter = &v
			}
		}
		return ErrorFromStatusCode(apiErr.StatusCode, msg, a.Name(), apiErr.Code, retryAfter, err)
	}
	return &NetworkError{SDKError: SDKError{Message: "openai request failed", Cause: err}, Provider: a.Name()}
}

func boolPtr(v bool) *bool { return &v }
