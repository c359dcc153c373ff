package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/unifiedllm"
)

// DefaultMaxIterationsMessage is appended as a user message when the
// iteration budget runs out.
const DefaultMaxIterationsMessage = "Max iterations reached. Please generate a final message that discusses the current state we are leaving it in."

// Outcome says how an Execute call ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeCancelled     Outcome = "cancelled"
)

// Result is the outcome of one Execute call.
type Result struct {
	Text       string           `json:"text"`
	Outcome    Outcome          `json:"outcome"`
	Iterations int              `json:"iterations"`
	Usage      unifiedllm.Usage `json:"usage"`
}

// SessionConfig holds loop settings.
type SessionConfig struct {
	MaxIterations        int    `json:"max_iterations"`
	MaxIterationsMessage string `json:"max_iterations_message,omitempty"`
	Model                string `json:"model,omitempty"`
	ReasoningEffort      string `json:"reasoning_effort,omitempty"`
	MaxOutputTokens      *int   `json:"max_output_tokens,omitempty"`

	// SystemPrompt, when set, is sent ahead of the transcript on every
	// request. It is not stored in the transcript.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// DefaultSessionConfig returns the default loop settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations:        100,
		MaxIterationsMessage: DefaultMaxIterationsMessage,
	}
}

// Toolbox is the tool surface a session needs: specs for requests and
// lookup for execution.
type Toolbox interface {
	ToolSet
	Specs() []unifiedllm.ToolSpec
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithConfig replaces the loop settings. Zero fields fall back to defaults.
func WithConfig(cfg SessionConfig) SessionOption {
	return func(s *Session) { s.config = cfg }
}

// WithTools sets the tools offered to the model.
func WithTools(tools Toolbox) SessionOption {
	return func(s *Session) { s.tools = tools }
}

// WithContextManager sets the transcript store.
func WithContextManager(cm ContextManager) SessionOption {
	return func(s *Session) { s.context = cm }
}

// WithHooks sets the notification sink.
func WithHooks(hooks HookSink) SessionOption {
	return func(s *Session) { s.hooks = hooks }
}

// WithExecutor replaces the tool executor.
func WithExecutor(ex *Executor) SessionOption {
	return func(s *Session) { s.executor = ex }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// Session drives one conversation: it calls the primary provider, runs the
// tools it asks for, and stops on a plain answer, on cancellation, or after
// a forced final call once the iteration budget is spent.
type Session struct {
	id       string
	client   *unifiedllm.Client
	tools    Toolbox
	context  ContextManager
	executor *Executor
	hooks    HookSink
	logger   *slog.Logger
	config   SessionConfig

	// One Execute at a time; the transcript has a single writer.
	mu sync.Mutex
}

// NewSession creates a session bound to client. Without options it has no
// tools, an in-memory transcript and no hooks.
func NewSession(client *unifiedllm.Client, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.NewString(),
		client: client,
		config: DefaultSessionConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxIterations <= 0 {
		s.config.MaxIterations = 100
	}
	if s.config.MaxIterationsMessage == "" {
		s.config.MaxIterationsMessage = DefaultMaxIterationsMessage
	}
	if s.tools == nil {
		s.tools = NewToolRegistry()
	}
	if s.context == nil {
		s.context = NewMemoryContext()
	}
	if s.logger == nil {
		s.logger = logging.Named("session")
	}
	s.logger = s.logger.With("session_id", s.id)
	if s.executor == nil {
		s.executor = NewExecutor(s.hooks, s.logger)
		s.executor.Truncate = NewTruncator(nil, nil).Truncate
	} else if s.executor.Hooks == nil {
		s.executor.Hooks = s.hooks
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the effective loop settings.
func (s *Session) Config() SessionConfig { return s.config }

// Context returns the transcript store.
func (s *Session) Context() ContextManager { return s.context }

// Messages returns a snapshot of the transcript.
func (s *Session) Messages(ctx context.Context) ([]unifiedllm.Message, error) {
	return s.context.GetMessages(ctx)
}

// Execute runs the loop for one user prompt. Reaching the iteration budget
// and cancellation are reported through Result.Outcome, not as errors.
// Errors are configuration, provider or transcript failures.
func (s *Session) Execute(ctx context.Context, prompt string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, unifiedllm.NewConfigurationError("no LLM client configured")
	}
	provider, err := s.client.Primary()
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventSessionStart, map[string]any{"session_id": s.id, "prompt": prompt, "provider": provider.Name()})
	result, err := s.run(ctx, provider, prompt)

	end := map[string]any{"session_id": s.id}
	if result != nil {
		end["outcome"] = string(result.Outcome)
		end["iterations"] = result.Iterations
	}
	if err != nil {
		end["error"] = err.Error()
	}
	s.emit(context.WithoutCancel(ctx), EventSessionEnd, end)
	return result, err
}

func (s *Session) run(ctx context.Context, provider unifiedllm.ProviderAdapter, prompt string) (*Result, error) {
	result := &Result{}

	if err := s.append(ctx, unifiedllm.UserMessage(prompt)); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return s.cancelled(result), nil
		}
		if result.Iterations >= s.config.MaxIterations {
			return s.finalCall(ctx, provider, result)
		}
		result.Iterations++
		logger := s.logger.With("iteration", result.Iterations)

		s.maybeCompact(ctx)
		resp, err := s.complete(ctx, provider, s.tools.Specs(), result.Iterations)
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(result), nil
			}
			return result, err
		}
		result.Usage = result.Usage.Add(resp.Usage)

		if err := s.append(ctx, unifiedllm.AssistantMessage(resp.Content...)); err != nil {
			return result, fmt.Errorf("append assistant message: %w", err)
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			result.Text = resp.Text()
			result.Outcome = OutcomeCompleted
			return result, nil
		}
		if ctx.Err() != nil {
			if err := s.answerCancelled(ctx, calls); err != nil {
				return result, err
			}
			return s.cancelled(result), nil
		}

		logger.Debug("dispatching tools", "count", len(calls))
		for _, r := range s.executor.Execute(ctx, calls, s.tools) {
			if err := s.append(ctx, unifiedllm.FunctionMessage(r)); err != nil {
				return result, fmt.Errorf("append tool result: %w", err)
			}
		}
	}
}

// finalCall asks for a summary with tools disabled. Tool calls in its reply
// are dropped since nothing will answer them.
func (s *Session) finalCall(ctx context.Context, provider unifiedllm.ProviderAdapter, result *Result) (*Result, error) {
	s.logger.Info("max iterations reached", "max_iterations", s.config.MaxIterations)
	if err := s.append(ctx, unifiedllm.UserMessage(s.config.MaxIterationsMessage)); err != nil {
		return result, fmt.Errorf("append max iterations message: %w", err)
	}

	resp, err := s.complete(ctx, provider, nil, result.Iterations+1)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(result), nil
		}
		return result, err
	}
	result.Usage = result.Usage.Add(resp.Usage)

	blocks := make([]unifiedllm.ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		if b.Kind != unifiedllm.BlockToolCall {
			blocks = append(blocks, b)
		}
	}
	if err := s.append(ctx, unifiedllm.AssistantMessage(blocks...)); err != nil {
		return result, fmt.Errorf("append final message: %w", err)
	}

	result.Text = resp.Text()
	result.Outcome = OutcomeMaxIterations
	return result, nil
}

func (s *Session) complete(ctx context.Context, provider unifiedllm.ProviderAdapter, tools []unifiedllm.ToolSpec, iteration int) (*unifiedllm.ChatResponse, error) {
	messages, err := s.context.GetMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if s.config.SystemPrompt != "" {
		messages = append([]unifiedllm.Message{unifiedllm.SystemMessage(s.config.SystemPrompt)}, messages...)
	}
	req := unifiedllm.ChatRequest{
		Messages:        messages,
		Tools:           tools,
		Model:           s.config.Model,
		MaxOutputTokens: s.config.MaxOutputTokens,
		ReasoningEffort: s.config.ReasoningEffort,
	}

	s.emit(ctx, EventLLMRequest, map[string]any{
		"provider":      provider.Name(),
		"iteration":     iteration,
		"message_count": len(messages),
		"tool_count":    len(tools),
	})
	resp, err := provider.Complete(ctx, req)
	if err != nil {
		s.logger.Error("provider call failed", "provider", provider.Name(), "iteration", iteration, "error", err)
		return nil, fmt.Errorf("provider %s: %w", provider.Name(), err)
	}
	s.emit(ctx, EventLLMResponse, map[string]any{
		"provider":      provider.Name(),
		"iteration":     iteration,
		"tool_calls":    len(resp.ToolCalls()),
		"finish_reason": resp.FinishReason.Reason,
		"usage":         resp.Usage,
	})
	return resp, nil
}

// append writes to the transcript even after cancellation, so a reply that
// arrived and the results of tools that ran are never lost.
func (s *Session) append(ctx context.Context, msg unifiedllm.Message) error {
	return s.context.AddMessage(context.WithoutCancel(ctx), msg)
}

func (s *Session) maybeCompact(ctx context.Context) {
	should, err := s.context.ShouldCompact(ctx)
	if err != nil {
		s.logger.Warn("compaction check failed", "error", err)
		return
	}
	if !should {
		return
	}
	s.emit(ctx, EventContextPreCompact, map[string]any{"session_id": s.id})
	if err := s.context.Compact(ctx); err != nil {
		s.logger.Warn("compaction failed", "error", err)
	}
}

// answerCancelled records a failed result for each call that was never
// dispatched, so every stored tool call has an answer.
func (s *Session) answerCancelled(ctx context.Context, calls []unifiedllm.ToolCall) error {
	for _, c := range calls {
		r := unifiedllm.ToolResult{ToolCallID: c.ID, Success: false, Error: "cancelled"}
		if err := s.append(ctx, unifiedllm.FunctionMessage(r)); err != nil {
			return fmt.Errorf("append tool result: %w", err)
		}
	}
	return nil
}

func (s *Session) cancelled(result *Result) *Result {
	s.logger.Info("session cancelled", "iterations", result.Iterations)
	result.Outcome = OutcomeCancelled
	return result
}

func (s *Session) emit(ctx context.Context, event string, data map[string]any) {
	emitSafely(ctx, s.hooks, s.logger, event, data)
}
