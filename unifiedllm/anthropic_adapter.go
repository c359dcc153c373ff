package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/martinemde/agentcore/logging"
)

const defaultAnthropicMaxTokens = 8192

// AnthropicConfig configures the Anthropic Messages adapter.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string // default: catalog default for "anthropic"
	MaxTokens      int    // default 8192
	ThinkingBudget int    // >0 enables extended thinking with this token budget
	Logger         *slog.Logger
}

// AnthropicAdapter speaks the Anthropic Messages API. A thinking block's
// signature (or a redacted block's data) is the continuity token.
type AnthropicAdapter struct {
	cfg    AnthropicConfig
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicAdapter builds the adapter. A missing API key is a
// ConfigurationError.
func NewAnthropicAdapter(cfg AnthropicConfig, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, NewConfigurationError("anthropic: api key is required")
	}
	if cfg.Model == "" {
		if info := DefaultModel("anthropic"); info != nil {
			cfg.Model = info.ID
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Named("anthropic")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &AnthropicAdapter{
		cfg:    cfg,
		client: anthropic.NewClient(clientOpts...),
		logger: logger,
	}, nil
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends the request through the Messages API.
func (a *AnthropicAdapter) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := a.cfg.Model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}
	params, err := buildAnthropicParams(req, model, a.cfg.MaxTokens, a.cfg.ThinkingBudget, a.logger)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}
	return parseAnthropicMessage(msg, a.Name(), a.logger), nil
}

func (a *AnthropicAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter *float64
		if apiErr.Response != nil {
			if v, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil {
				retryAfter = &v
			}
		}
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), a.Name(), "", retryAfter, err)
	}
	return &NetworkError{SDKError: SDKError{Message: "anthropic request failed", Cause: err}, Provider: a.Name()}
}

// buildAnthropicParams translates a canonical request into Messages API
// params. System and developer text is hoisted into the system prompt;
// consecutive messages that map to the same wire role are merged, which keeps
// every tool result of a turn in a single user message. A request without
// tools renders earlier tool_use and tool_result blocks as text, since the
// Messages API rejects those blocks when no tools are defined.
func buildAnthropicParams(req ChatRequest, model string, maxTokens, thinkingBudget int, logger *slog.Logger) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.MaxOutputTokens != nil {
		params.MaxTokens = int64(*req.MaxOutputTokens)
	}
	if thinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(thinkingBudget))
		if params.MaxTokens <= int64(thinkingBudget) {
			params.MaxTokens = int64(thinkingBudget) + int64(maxTokens)
		}
	}

	flatten := len(req.Tools) == 0
	var system []string
	for _, msg := range req.Messages {
		var (
			role   anthropic.MessageParamRole
			blocks []anthropic.ContentBlockParamUnion
		)
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			if text := msg.TextContent(); text != "" {
				system = append(system, text)
			}
			continue
		case RoleUser:
			role = anthropic.MessageParamRoleUser
			for _, block := range msg.Content {
				if block.Kind == BlockText && block.Text != "" {
					blocks = append(blocks, anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: block.Text}})
				}
			}
		case RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
			for _, block := range msg.Content {
				if flatten && block.Kind == BlockToolCall && block.ToolCall != nil {
					blocks = append(blocks, anthropicText(toolCallText(*block.ToolCall)))
					continue
				}
				if p, ok := anthropicAssistantBlock(block, logger); ok {
					blocks = append(blocks, p)
				}
			}
		case RoleFunction:
			role = anthropic.MessageParamRoleUser
			for _, result := range msg.ToolResults() {
				if flatten {
					blocks = append(blocks, anthropicText(toolResultText(result)))
					continue
				}
				blocks = append(blocks, anthropicToolResult(result))
			}
		default:
			return params, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: "unsupported message role " + strconv.Quote(string(msg.Role))},
				Provider: "anthropic",
			}}
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(params.Messages); n > 0 && params.Messages[n-1].Role == role {
			params.Messages[n-1].Content = append(params.Messages[n-1].Content, blocks...)
			continue
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	for _, spec := range req.Tools {
		schema := NormalizeToolSchema(spec.Parameters)
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if required := stringSlice(schema["required"]); len(required) > 0 {
			input.Required = required
		}
		tool := anthropic.ToolParam{Name: spec.Name, InputSchema: input}
		if spec.Description != "" {
			tool.Description = anthropic.String(spec.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	return params, nil
}

func anthropicAssistantBlock(block ContentBlock, logger *slog.Logger) (anthropic.ContentBlockParamUnion, bool) {
	switch block.Kind {
	case BlockText:
		if block.Text == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: block.Text}}, true
	case BlockToolCall:
		if block.ToolCall == nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		args := block.ToolCall.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
			ID:    block.ToolCall.ID,
			Name:  block.ToolCall.Name,
			Input: args,
		}}, true
	case BlockReasoning:
		r := block.Reasoning
		if r == nil || r.ContinuityToken == nil {
			// Thinking without a signature cannot be replayed.
			return anthropic.ContentBlockParamUnion{}, false
		}
		if r.Redacted {
			return anthropic.ContentBlockParamUnion{OfRedactedThinking: &anthropic.RedactedThinkingBlockParam{
				Data: string(r.ContinuityToken),
			}}, true
		}
		return anthropic.ContentBlockParamUnion{OfThinking: &anthropic.ThinkingBlockParam{
			Signature: string(r.ContinuityToken),
			Thinking:  strings.Join(r.Summary, ""),
		}}, true
	case BlockToolResult:
		if block.ToolResult == nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropicToolResult(*block.ToolResult), true
	default:
		logger.Warn("dropping unknown content block", "kind", block.Kind)
		return anthropic.ContentBlockParamUnion{}, false
	}
}

func anthropicText(text string) anthropic.ContentBlockParamUnion {
	return anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: text}}
}

func toolCallText(call ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil || call.Arguments == nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("[called tool %s (%s) with %s]", call.Name, call.ID, args)
}

func toolResultText(result ToolResult) string {
	return fmt.Sprintf("[result of %s]\n%s", result.ToolCallID, result.OutputString())
}

func anthropicToolResult(result ToolResult) anthropic.ContentBlockParamUnion {
	p := &anthropic.ToolResultBlockParam{
		ToolUseID: result.ToolCallID,
		Content: []anthropic.ToolResultBlockParamContentUnion{{
			OfText: &anthropic.TextBlockParam{Text: result.OutputString()},
		}},
	}
	if !result.Success {
		p.IsError = anthropic.Bool(true)
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: p}
}

// parseAnthropicMessage converts a Messages API reply into canonical blocks.
func parseAnthropicMessage(msg *anthropic.Message, provider string, logger *slog.Logger) *ChatResponse {
	out := &ChatResponse{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: provider,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		out.Usage.CachedInputTokens = intPtr(int(msg.Usage.CacheReadInputTokens))
	}

	for _, content := range msg.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, TextBlock(c.Text))
		case anthropic.ThinkingBlock:
			out.Content = append(out.Content, ReasoningBlock("", []byte(c.Signature), c.Thinking))
		case anthropic.RedactedThinkingBlock:
			block := ReasoningBlock("", []byte(c.Data))
			block.Reasoning.Redacted = true
			out.Content = append(out.Content, block)
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(c.Input, &args); err != nil || args == nil {
				logger.Warn("malformed tool arguments", "call_id", c.ID, "raw", string(c.Input))
				args = map[string]any{}
			}
			out.Content = append(out.Content, ToolCallBlock(c.ID, c.Name, args))
		default:
			logger.Warn("ignoring unknown content block", "type", content.Type)
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		out.FinishReason = FinishReason{Reason: "tool_calls", Raw: string(msg.StopReason)}
	case anthropic.StopReasonMaxTokens:
		out.FinishReason = FinishReason{Reason: "length", Raw: string(msg.StopReason)}
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		out.FinishReason = FinishReason{Reason: "stop", Raw: string(msg.StopReason)}
	default:
		out.FinishReason = FinishReason{Reason: "other", Raw: string(msg.StopReason)}
	}
	return out
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
