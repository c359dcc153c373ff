// Package config loads agentcore settings from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentcore/logging"
)

// Provider kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindBedrock   = "bedrock"
	KindGollm     = "gollm"
)

// Context drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

const (
	defaultMaxIterations = 100
	defaultPriority      = 100
	defaultServerAddress = ":8080"
	dirName              = ".agentcore"
	fileName             = "config.yaml"
)

// Config is the full application configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Providers    []ProviderConfig   `yaml:"providers"`
	Tools        ToolsConfig        `yaml:"tools"`
	Context      ContextConfig      `yaml:"context"`
	Log          logging.Config     `yaml:"log"`
	Server       ServerConfig       `yaml:"server"`
}

// OrchestratorConfig controls the agent loop.
type OrchestratorConfig struct {
	MaxIterations        int    `yaml:"max_iterations"`
	MaxIterationsMessage string `yaml:"max_iterations_message"`
	SystemPrompt         string `yaml:"system_prompt"`
	// Retries enables retry with backoff on retryable provider errors.
	Retries int `yaml:"retries"`
	// IncludeEnvironment adds working directory, git and AGENTS.md context to
	// the system prompt.
	IncludeEnvironment bool `yaml:"include_environment"`
}

// ProviderConfig describes one provider adapter. Lower priority values are
// registered first; the first registered provider is the primary.
type ProviderConfig struct {
	Name              string `yaml:"name"`
	Kind              string `yaml:"kind"`
	Model             string `yaml:"model"`
	Priority          int    `yaml:"priority"`
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	Organization      string `yaml:"organization"`
	ReasoningEffort   string `yaml:"reasoning_effort"`
	ReasoningSummary  string `yaml:"reasoning_summary"`
	MaxOutputTokens   int    `yaml:"max_output_tokens"`
	ParallelToolCalls *bool  `yaml:"parallel_tool_calls"`
	IncludeReasoning  *bool  `yaml:"include_reasoning"`
	ThinkingBudget    int    `yaml:"thinking_budget"`
	Region            string `yaml:"region"`
	// Backend is the gollm provider name (ollama, groq, ...) for kind gollm.
	Backend string `yaml:"backend"`
}

// ToolsConfig selects the tools offered to the model.
type ToolsConfig struct {
	Allow      []string          `yaml:"allow"`
	Builtin    *bool             `yaml:"builtin"`
	WorkingDir string            `yaml:"working_dir"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// BuiltinEnabled reports whether the workspace tools are registered.
// They are on unless explicitly disabled.
func (t ToolsConfig) BuiltinEnabled() bool {
	return t.Builtin == nil || *t.Builtin
}

// MCPServerConfig starts an MCP server over stdio.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ContextConfig selects the transcript store.
type ContextConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis transcript store.
type RedisConfig struct {
	Address     string `yaml:"address"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
	MaxMessages int    `yaml:"max_messages"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{MaxIterations: defaultMaxIterations},
		Context:      ContextConfig{Driver: DriverMemory},
		Log:          logging.Config{Level: "info", Format: "text"},
		Server:       ServerConfig{Address: defaultServerAddress},
	}
}

// Load reads explicitPath when given. Otherwise it layers the user file
// (~/.agentcore/config.yaml) and then the project file
// (./.agentcore/config.yaml), later files overriding earlier ones. Environment
// overrides are applied last and the result is validated.
func Load(explicitPath string) (*Config, error) {
	var paths []string
	if explicitPath != "" {
		paths = []string{explicitPath}
	} else {
		paths = DefaultPaths()
	}

	cfg := Default()
	for _, p := range paths {
		if explicitPath == "" {
			if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
				continue
			}
		}
		if err := loadFile(p, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPaths returns the user and project config locations, in load order.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, dirName, fileName))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, dirName, fileName))
	}
	return paths
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv fills credentials and endpoints from the environment. Keys only
// fill providers that do not set one. When no provider is configured, one is
// added for each API key present.
func (c *Config) ApplyEnv(getenv func(string) string) {
	openaiKey := getenv("OPENAI_API_KEY")
	anthropicKey := getenv("ANTHROPIC_API_KEY")
	openaiBase := getenv("OPENAI_BASE_URL")

	if len(c.Providers) == 0 {
		if openaiKey != "" {
			c.Providers = append(c.Providers, ProviderConfig{Kind: KindOpenAI})
		}
		if anthropicKey != "" {
			c.Providers = append(c.Providers, ProviderConfig{Kind: KindAnthropic, Priority: defaultPriority + 10})
		}
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		switch p.Kind {
		case KindOpenAI:
			if p.APIKey == "" {
				p.APIKey = openaiKey
			}
			if p.BaseURL == "" {
				p.BaseURL = openaiBase
			}
		case KindAnthropic:
			if p.APIKey == "" {
				p.APIKey = anthropicKey
			}
		}
	}

	if addr := getenv("AGENTCORE_REDIS_ADDR"); addr != "" {
		c.Context.Redis.Address = addr
		if c.Context.Driver == "" || c.Context.Driver == DriverMemory {
			c.Context.Driver = DriverRedis
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.MaxIterations == 0 {
		c.Orchestrator.MaxIterations = defaultMaxIterations
	}
	if c.Context.Driver == "" {
		c.Context.Driver = DriverMemory
	}
	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.Priority == 0 {
			p.Priority = defaultPriority
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxIterations < 0 {
		return fmt.Errorf("orchestrator.max_iterations must not be negative, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.Retries < 0 {
		return fmt.Errorf("orchestrator.retries must not be negative, got %d", c.Orchestrator.Retries)
	}

	seen := map[string]bool{}
	for i, p := range c.Providers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		switch p.Kind {
		case KindOpenAI, KindAnthropic:
			if strings.TrimSpace(p.APIKey) == "" {
				return fmt.Errorf("provider %s: api_key must be provided", label)
			}
		case KindBedrock:
		case KindGollm:
			if p.Backend == "" {
				return fmt.Errorf("provider %s: backend must be provided for kind gollm", label)
			}
		default:
			return fmt.Errorf("provider %s: kind %q must be one of openai, anthropic, bedrock, gollm", label, p.Kind)
		}
		if p.MaxOutputTokens < 0 || p.ThinkingBudget < 0 {
			return fmt.Errorf("provider %s: token limits must not be negative", label)
		}
		if seen[p.Name] && p.Name != "" {
			return fmt.Errorf("provider %s: duplicate name", label)
		}
		seen[p.Name] = true
	}

	for _, s := range c.Tools.MCPServers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("tools.mcp_servers: name and command are required")
		}
	}

	switch c.Context.Driver {
	case DriverMemory, "":
	case DriverRedis:
		if c.Context.Redis.Address == "" {
			return fmt.Errorf("context.redis.address must be provided for the redis driver")
		}
		if c.Context.Redis.MaxMessages < 0 {
			return fmt.Errorf("context.redis.max_messages must not be negative")
		}
	default:
		return fmt.Errorf("context.driver %q must be memory or redis", c.Context.Driver)
	}
	return nil
}
