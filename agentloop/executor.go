package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/unifiedllm"
)

// Executor runs the tool calls of one turn concurrently.
type Executor struct {
	Hooks  HookSink
	Logger *slog.Logger

	// Truncate, when set, shortens successful string output before it is
	// returned. The full output is still reported through tool:post.
	Truncate func(toolName, output string) string
}

// NewExecutor builds an Executor that reports through hooks.
func NewExecutor(hooks HookSink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.Named("executor")
	}
	return &Executor{Hooks: hooks, Logger: logger}
}

// Execute runs every call in its own goroutine and returns one result per
// call, in the order the calls were given. A failing, panicking or unknown
// tool produces a failed result and never affects its siblings.
func (e *Executor) Execute(ctx context.Context, calls []unifiedllm.ToolCall, tools ToolSet) []unifiedllm.ToolResult {
	results := make([]unifiedllm.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call unifiedllm.ToolCall) {
			defer wg.Done()
			results[idx] = e.executeOne(ctx, call, tools)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call unifiedllm.ToolCall, tools ToolSet) unifiedllm.ToolResult {
	logger := e.logger().With("tool", call.Name, "call_id", call.ID)
	emitSafely(ctx, e.Hooks, logger, EventToolPre, map[string]any{
		"tool_name":  call.Name,
		"tool_input": call.Arguments,
		"call_id":    call.ID,
	})

	var tool Tool
	if tools != nil {
		tool = tools.Get(call.Name)
	}
	if tool == nil {
		return e.failed(ctx, logger, call, unifiedllm.NewToolNotFoundError(call.Name))
	}

	start := time.Now()
	out, err := invokeTool(ctx, tool, call.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		return e.failed(ctx, logger, call, unifiedllm.NewToolExecutionError(call.Name, err))
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprint(out.Output)
		}
		return e.failed(ctx, logger, call, unifiedllm.NewToolExecutionError(call.Name, fmt.Errorf("%s", msg)))
	}

	output := out.Output
	if s, ok := output.(string); ok && e.Truncate != nil {
		output = e.Truncate(call.Name, s)
	}

	logger.Debug("tool finished", "duration_ms", elapsed.Milliseconds())
	emitSafely(ctx, e.Hooks, logger, EventToolPost, map[string]any{
		"tool_name":     call.Name,
		"call_id":       call.ID,
		"tool_response": out.Output,
		"duration_ms":   elapsed.Milliseconds(),
	})
	return unifiedllm.ToolResult{ToolCallID: call.ID, Output: output, Success: true}
}

func (e *Executor) failed(ctx context.Context, logger *slog.Logger, call unifiedllm.ToolCall, err error) unifiedllm.ToolResult {
	logger.Warn("tool failed", "error", err)
	emitSafely(ctx, e.Hooks, logger, EventToolError, map[string]any{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"error":     err.Error(),
	})
	return unifiedllm.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error()}
}

// invokeTool calls the tool, converting a panic into an error.
func invokeTool(ctx context.Context, tool Tool, args map[string]any) (out ToolOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args)
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Named("executor")
}
