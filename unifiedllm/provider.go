package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
// Adapters translate a ChatRequest into their wire protocol, perform the call,
// and parse the reply into canonical content blocks. They never retry.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
