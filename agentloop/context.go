package agentloop

import (
	"context"
	"sync"

	"github.com/martinemde/agentcore/unifiedllm"
)

// ContextManager owns the conversation transcript. The loop is its only
// writer; GetMessages returns a snapshot the caller may keep.
type ContextManager interface {
	AddMessage(ctx context.Context, msg unifiedllm.Message) error
	GetMessages(ctx context.Context) ([]unifiedllm.Message, error)
	ShouldCompact(ctx context.Context) (bool, error)
	Compact(ctx context.Context) error
	Clear(ctx context.Context) error
}

// MemoryContext is an in-process append-only transcript. It never asks to be
// compacted and Compact is a no-op.
type MemoryContext struct {
	mu       sync.RWMutex
	messages []unifiedllm.Message
}

// NewMemoryContext returns an empty transcript.
func NewMemoryContext() *MemoryContext {
	return &MemoryContext{}
}

func (c *MemoryContext) AddMessage(_ context.Context, msg unifiedllm.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, cloneMessage(msg))
	return nil
}

func (c *MemoryContext) GetMessages(_ context.Context) ([]unifiedllm.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]unifiedllm.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (c *MemoryContext) ShouldCompact(context.Context) (bool, error) { return false, nil }

func (c *MemoryContext) Compact(context.Context) error { return nil }

func (c *MemoryContext) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	return nil
}

// Len reports how many messages are stored.
func (c *MemoryContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// cloneMessage copies the block slice and the payloads behind its pointers so
// a stored message cannot be changed through a caller's copy.
func cloneMessage(m unifiedllm.Message) unifiedllm.Message {
	out := unifiedllm.Message{Role: m.Role, Content: make([]unifiedllm.ContentBlock, len(m.Content))}
	for i, b := range m.Content {
		if b.Reasoning != nil {
			r := *b.Reasoning
			if r.ContinuityToken != nil {
				r.ContinuityToken = append([]byte(nil), r.ContinuityToken...)
			}
			r.Summary = append([]string(nil), r.Summary...)
			b.Reasoning = &r
		}
		if b.ToolCall != nil {
			tc := *b.ToolCall
			if tc.Arguments != nil {
				args := make(map[string]any, len(tc.Arguments))
				for k, v := range tc.Arguments {
					args[k] = v
				}
				tc.Arguments = args
			}
			b.ToolCall = &tc
		}
		if b.ToolResult != nil {
			tr := *b.ToolResult
			b.ToolResult = &tr
		}
		out.Content[i] = b
	}
	return out
}
