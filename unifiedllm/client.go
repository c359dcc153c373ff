package unifiedllm

import (
	"context"
	"sync"
)

// CompleteFunc is the downstream half of a middleware chain.
type CompleteFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req ChatRequest, next CompleteFunc) (*ChatResponse, error)

// Client is the provider registry. Adapters are kept in registration order;
// the first one registered is the primary provider used by a session.
type Client struct {
	providers  []ProviderAdapter
	middleware []Middleware
	mu         sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers = append(c.providers, adapter)
	}
}

// WithMiddleware adds middleware to the client. The first registered runs
// outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterProvider appends an adapter. Registering a second adapter under a
// name already in use is a configuration error.
func (c *Client) RegisterProvider(adapter ProviderAdapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.providers {
		if existing.Name() == adapter.Name() {
			return NewConfigurationError("provider %q is already registered", adapter.Name())
		}
	}
	c.providers = append(c.providers, adapter)
	return nil
}

// Names returns the registered provider names in registration order.
func (c *Client) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Provider returns the named adapter wrapped in the client's middleware.
func (c *Client) Provider(name string) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.Name() == name {
			return c.wrap(p), nil
		}
	}
	return nil, NewConfigurationError("provider %q is not registered", name)
}

// Primary returns the first registered adapter wrapped in the client's
// middleware, or a ConfigurationError when the registry is empty.
func (c *Client) Primary() (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.providers) == 0 {
		return nil, NewConfigurationError("no provider registered")
	}
	return c.wrap(c.providers[0]), nil
}

// Complete sends a request to the primary provider through the middleware chain.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	adapter, err := c.Primary()
	if err != nil {
		return nil, err
	}
	return adapter.Complete(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Client) wrap(adapter ProviderAdapter) ProviderAdapter {
	if len(c.middleware) == 0 {
		return adapter
	}
	mws := make([]Middleware, len(c.middleware))
	copy(mws, c.middleware)
	return &chainedAdapter{inner: adapter, middleware: mws}
}

// chainedAdapter applies a middleware onion around an adapter's Complete.
type chainedAdapter struct {
	inner      ProviderAdapter
	middleware []Middleware
}

func (a *chainedAdapter) Name() string { return a.inner.Name() }

func (a *chainedAdapter) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	handler := CompleteFunc(a.inner.Complete)

	// Apply middleware in reverse order so first registered runs first.
	for i := len(a.middleware) - 1; i >= 0; i-- {
		mw := a.middleware[i]
		next := handler
		handler = func(ctx context.Context, r ChatRequest) (*ChatResponse, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}
