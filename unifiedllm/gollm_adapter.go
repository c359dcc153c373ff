package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter serves providers through gollm's text-generation API. gollm
// takes a single prompt, so the conversation is flattened to text and tool
// calls are recovered from a JSON array in the reply. It carries no reasoning
// continuity.
type GollmAdapter struct {
	provider  string
	model     string
	generate  func(ctx context.Context, prompt *gollm.Prompt) (string, error)
	setOption func(key string, value any)
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.apiKey = key }
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.maxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.temperature = t }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter creates a GollmAdapter for the given gollm provider name
// (for example "ollama" or "groq"). If no key is given gollm falls back to
// its own environment lookup.
func NewGollmAdapter(provider string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{maxTokens: 4096, temperature: 0.7}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.model == "" {
		if info := DefaultModel(provider); info != nil {
			cfg.model = info.ID
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to RetryMiddleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.model != "" {
		gollmOpts = append(gollmOpts, gollm.SetModel(cfg.model))
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, NewConfigurationError("gollm provider %s: %v", provider, err)
	}
	adapter := NewGollmAdapterFromLLM(provider, llm)
	adapter.model = cfg.model
	return adapter, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
		setOption: func(key string, value any) { llm.SetOption(key, value) },
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string { return a.provider }

// Complete flattens the conversation into a prompt and generates a reply.
func (a *GollmAdapter) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	prompt := a.translateRequest(req)
	if req.Model != "" && a.setOption != nil {
		a.setOption("model", ResolveModel(req.Model))
	}
	if req.MaxOutputTokens != nil && a.setOption != nil {
		a.setOption("max_tokens", *req.MaxOutputTokens)
	}

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	return a.buildResponse(req, text), nil
}

func (a *GollmAdapter) translateRequest(req ChatRequest) *gollm.Prompt {
	var (
		system []string
		parts  []string
	)
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			system = append(system, msg.TextContent())
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				args, _ := json.Marshal(call.Arguments)
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s", call.ID, call.Name, args))
			}
		case RoleFunction:
			for _, result := range msg.ToolResults() {
				prefix := "[Tool Result]"
				if !result.Success {
					prefix = "[Tool Error]"
				}
				parts = append(parts, prefix+" "+result.ToolCallID+": "+result.OutputString())
			}
		}
	}

	text := strings.Join(parts, "\n")
	if text == "" {
		text = "Hello"
	}

	var opts []gollm.PromptOption
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.Join(system, "\n"), gollm.CacheTypeEphemeral))
	}
	if req.MaxOutputTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxOutputTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  NormalizeToolSchema(t.Parameters),
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
	}
	return gollm.NewPrompt(text, opts...)
}

func (a *GollmAdapter) buildResponse(req ChatRequest, text string) *ChatResponse {
	model := a.model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}

	var content []ContentBlock
	calls, rest := parseTextToolCalls(text)
	if rest != "" {
		content = append(content, TextBlock(rest))
	}
	content = append(content, calls...)

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	return &ChatResponse{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     a.provider,
		Content:      content,
		FinishReason: finish,
	}
}

// parseTextToolCalls finds a trailing JSON tool call list, either
// [{"name":..,"arguments":{..}}] or {"tool_calls":[..]}, and returns the
// calls plus the text before it.
func parseTextToolCalls(text string) ([]ContentBlock, string) {
	type rawCall struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var (
		raws  []rawCall
		start = -1
	)
	if idx := strings.Index(text, `{"tool_calls"`); idx >= 0 {
		var wrapped struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if json.Unmarshal([]byte(strings.TrimSpace(text[idx:])), &wrapped) == nil {
			raws, start = wrapped.ToolCalls, idx
		}
	}
	if start < 0 {
		if idx := strings.Index(text, `[{"name"`); idx >= 0 {
			if json.Unmarshal([]byte(strings.TrimSpace(text[idx:])), &raws) == nil {
				start = idx
			}
		}
	}
	if start < 0 || len(raws) == 0 {
		return nil, strings.TrimSpace(text)
	}

	blocks := make([]ContentBlock, 0, len(raws))
	for _, rc := range raws {
		args := map[string]any{}
		if len(rc.Arguments) > 0 {
			// Arguments may arrive as an object or as a JSON-encoded string.
			var encoded string
			if json.Unmarshal(rc.Arguments, &encoded) == nil {
				_ = json.Unmarshal([]byte(encoded), &args)
			} else {
				_ = json.Unmarshal(rc.Arguments, &args)
			}
		}
		id := rc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		blocks = append(blocks, ToolCallBlock(id, rc.Name, args))
	}
	return blocks, strings.TrimSpace(text[:start])
}

// translateError classifies gollm errors, which only carry a message.
func (a *GollmAdapter) translateError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{ProviderError: base}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		base.StatusCode = 403
		return &AccessDeniedError{ProviderError: base}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		base.StatusCode = 404
		return &NotFoundError{ProviderError: base}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		base.StatusCode, base.Retryable = 429, true
		return &RateLimitError{ProviderError: base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		base.StatusCode = 413
		return &ContextLengthError{ProviderError: base}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		base.StatusCode, base.Retryable = 500, true
		return &ServerError{ProviderError: base}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: base}
	default:
		base.Retryable = true
		return &base
	}
}
