package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/martinemde/agentcore/agentloop"
	"github.com/martinemde/agentcore/config"
	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/unifiedllm"
)

// app holds the long-lived pieces shared by every session.
type app struct {
	cfg          *config.Config
	client       *unifiedllm.Client
	tools        *agentloop.ToolRegistry
	mcpServers   []*agentloop.MCPServer
	redis        *redis.Client
	hooks        agentloop.HookSink
	systemPrompt string
	logger       *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.Named("agentcore"),
		hooks:  agentloop.LogSink{Logger: logging.Named("hooks")},
	}

	client, err := buildClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.client = client

	ws := agentloop.NewWorkspace(cfg.Tools.WorkingDir)
	if err := a.buildTools(ctx, ws); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Context.Driver == config.DriverRedis {
		rdb, err := agentloop.NewRedisClient(ctx, redisConfig(cfg.Context.Redis))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
	}

	a.systemPrompt = cfg.Orchestrator.SystemPrompt
	if cfg.Orchestrator.IncludeEnvironment {
		a.systemPrompt = agentloop.BuildSystemPrompt(cfg.Orchestrator.SystemPrompt, ws, primaryModel(cfg))
	}

	a.logger.Info("agent ready",
		"providers", client.Names(),
		"tools", a.tools.Names(),
		"context", cfg.Context.Driver,
	)
	return a, nil
}

// buildClient registers the configured providers in priority order. The
// first one becomes the primary.
func buildClient(ctx context.Context, cfg *config.Config) (*unifiedllm.Client, error) {
	if len(cfg.Providers) == 0 {
		return nil, unifiedllm.NewConfigurationError("no providers configured; set OPENAI_API_KEY or add providers to the config file")
	}

	var opts []unifiedllm.ClientOption
	if cfg.Orchestrator.Retries > 0 {
		policy := unifiedllm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.Orchestrator.Retries
		logger := logging.Named("retry")
		policy.OnRetry = func(err error, attempt int, wait time.Duration) {
			logger.Warn("retrying provider call", "attempt", attempt, "wait", wait, "error", err)
		}
		opts = append(opts, unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(policy)))
	}
	client := unifiedllm.NewClient(opts...)

	for _, p := range sortedProviders(cfg.Providers) {
		adapter, err := newAdapter(ctx, p)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		if err := client.RegisterProvider(adapter); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// sortedProviders orders providers by ascending priority, keeping file order
// for ties.
func sortedProviders(providers []config.ProviderConfig) []config.ProviderConfig {
	out := append([]config.ProviderConfig(nil), providers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func primaryModel(cfg *config.Config) string {
	sorted := sortedProviders(cfg.Providers)
	if len(sorted) == 0 {
		return ""
	}
	if sorted[0].Model != "" {
		return sorted[0].Model
	}
	if info := unifiedllm.DefaultModel(sorted[0].Kind); info != nil {
		return info.ID
	}
	return ""
}

func newAdapter(ctx context.Context, p config.ProviderConfig) (unifiedllm.ProviderAdapter, error) {
	logger := logging.Named(p.Name)
	switch p.Kind {
	case config.KindOpenAI:
		return unifiedllm.NewOpenAIAdapter(unifiedllm.OpenAIConfig{
			APIKey:            p.APIKey,
			BaseURL:           p.BaseURL,
			Organization:      p.Organization,
			Model:             p.Model,
			ReasoningEffort:   p.ReasoningEffort,
			ReasoningSummary:  p.ReasoningSummary,
			MaxOutputTokens:   p.MaxOutputTokens,
			ParallelToolCalls: p.ParallelToolCalls,
			IncludeReasoning:  p.IncludeReasoning,
			Logger:            logger,
		})
	case config.KindAnthropic:
		return unifiedllm.NewAnthropicAdapter(unifiedllm.AnthropicConfig{
			APIKey:         p.APIKey,
			BaseURL:        p.BaseURL,
			Model:          p.Model,
			MaxTokens:      p.MaxOutputTokens,
			ThinkingBudget: p.ThinkingBudget,
			Logger:         logger,
		})
	case config.KindBedrock:
		return unifiedllm.NewBedrockAdapter(ctx, unifiedllm.BedrockConfig{
			Region:         p.Region,
			Model:          p.Model,
			MaxTokens:      p.MaxOutputTokens,
			ThinkingBudget: p.ThinkingBudget,
			Logger:         logger,
		})
	case config.KindGollm:
		opts := []unifiedllm.GollmAdapterOption{unifiedllm.WithModel(p.Model)}
		if p.APIKey != "" {
			opts = append(opts, unifiedllm.WithAPIKey(p.APIKey))
		}
		if p.MaxOutputTokens > 0 {
			opts = append(opts, unifiedllm.WithMaxTokens(p.MaxOutputTokens))
		}
		return unifiedllm.NewGollmAdapter(p.Backend, opts...)
	default:
		return nil, unifiedllm.NewConfigurationError("unknown provider kind %q", p.Kind)
	}
}

// buildTools registers builtin and MCP tools, then applies the allow list.
func (a *app) buildTools(ctx context.Context, ws *agentloop.Workspace) error {
	reg := agentloop.NewToolRegistry()
	if a.cfg.Tools.BuiltinEnabled() {
		agentloop.RegisterBuiltinTools(reg, ws)
	}
	for _, s := range a.cfg.Tools.MCPServers {
		server, err := agentloop.ConnectMCPServer(ctx, s.Name, s.Command, s.Args, logging.Named("mcp"))
		if err != nil {
			return err
		}
		a.mcpServers = append(a.mcpServers, server)
		server.RegisterTools(reg)
	}

	filtered, err := reg.Filter(a.cfg.Tools.Allow)
	if err != nil {
		return fmt.Errorf("tools.allow: %w", err)
	}
	a.tools = filtered
	return nil
}

func redisConfig(r config.RedisConfig) agentloop.RedisContextConfig {
	return agentloop.RedisContextConfig{
		Address:     r.Address,
		Password:    r.Password,
		DB:          r.DB,
		KeyPrefix:   r.KeyPrefix,
		MaxMessages: r.MaxMessages,
	}
}

// newSession builds a session with its own transcript.
func (a *app) newSession(_ context.Context, id string) (*agentloop.Session, error) {
	var cm agentloop.ContextManager = agentloop.NewMemoryContext()
	if a.redis != nil {
		cm = agentloop.NewRedisContext(a.redis, redisConfig(a.cfg.Context.Redis), id)
	}
	return agentloop.NewSession(a.client,
		agentloop.WithSessionID(id),
		agentloop.WithConfig(agentloop.SessionConfig{
			MaxIterations:        a.cfg.Orchestrator.MaxIterations,
			MaxIterationsMessage: a.cfg.Orchestrator.MaxIterationsMessage,
			SystemPrompt:         a.systemPrompt,
		}),
		agentloop.WithTools(a.tools),
		agentloop.WithContextManager(cm),
		agentloop.WithHooks(a.hooks),
		agentloop.WithLogger(logging.Named("session")),
	), nil
}

// Close stops MCP servers and releases provider and redis connections.
func (a *app) Close() error {
	var errs []error
	for _, s := range a.mcpServers {
		errs = append(errs, s.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
