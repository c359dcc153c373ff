package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hook event names.
const (
	EventSessionStart      = "session:start"
	EventSessionEnd        = "session:end"
	EventLLMRequest        = "llm:request"
	EventLLMResponse       = "llm:response"
	EventToolPre           = "tool:pre"
	EventToolPost          = "tool:post"
	EventToolError         = "tool:error"
	EventContextPreCompact = "context:pre-compact"
)

// HookSink receives fire-and-forget notifications. Errors and panics from a
// sink are logged and otherwise ignored.
type HookSink interface {
	Emit(ctx context.Context, event string, data map[string]any) error
}

// SinkFunc adapts a function to HookSink.
type SinkFunc func(ctx context.Context, event string, data map[string]any) error

func (f SinkFunc) Emit(ctx context.Context, event string, data map[string]any) error {
	return f(ctx, event, data)
}

// MultiSink fans an event out to every sink. All sinks are called even if
// one fails; the failures are joined.
type MultiSink []HookSink

func (m MultiSink) Emit(ctx context.Context, event string, data map[string]any) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := callSink(ctx, sink, event, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, event string, data map[string]any) error {
	if s.Logger == nil {
		return nil
	}
	attrs := make([]any, 0, len(data)*2+2)
	attrs = append(attrs, "event", event)
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	s.Logger.DebugContext(ctx, "hook", attrs...)
	return nil
}

// callSink invokes a sink and turns a panic into an error.
func callSink(ctx context.Context, sink HookSink, event string, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook sink panicked on %s: %v", event, r)
		}
	}()
	return sink.Emit(ctx, event, data)
}

// emitSafely never lets a notification failure reach the caller.
func emitSafely(ctx context.Context, sink HookSink, logger *slog.Logger, event string, data map[string]any) {
	if sink == nil {
		return
	}
	if err := callSink(ctx, sink, event, data); err != nil && logger != nil {
		logger.Warn("hook emit failed", "event", event, "error", err)
	}
}

// SessionEvent is one notification delivered through an EventEmitter.
type SessionEvent struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter is a HookSink that delivers events to the host application
// over a buffered channel. It never blocks the loop: when the buffer is full
// the event is dropped.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	dropped   int
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit queues the event. Emitting after Close is a no-op.
func (e *EventEmitter) Emit(_ context.Context, kind string, data map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
		return nil
	default:
		e.dropped++
		return fmt.Errorf("event buffer full, dropped %s", kind)
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Dropped reports how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
