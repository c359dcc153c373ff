package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         int      `json:"max_output"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is that
// provider's default.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-5.1-codex", Provider: "openai", DisplayName: "GPT-5.1 Codex",
		ContextWindow: 400000, MaxOutput: 128000, SupportsReasoning: true,
		Aliases: []string{"codex"},
	},
	{
		ID: "gpt-5.1", Provider: "openai", DisplayName: "GPT-5.1",
		ContextWindow: 400000, MaxOutput: 128000, SupportsReasoning: true,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5-mini", Provider: "openai", DisplayName: "GPT-5 Mini",
		ContextWindow: 400000, MaxOutput: 128000, SupportsReasoning: true,
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 64000, SupportsReasoning: true,
		Aliases: []string{"sonnet"},
	},
	{
		ID: "claude-opus-4-1", Provider: "anthropic", DisplayName: "Claude Opus 4.1",
		ContextWindow: 200000, MaxOutput: 32000, SupportsReasoning: true,
		Aliases: []string{"opus"},
	},

	// Anthropic models served through AWS Bedrock
	{
		ID: "anthropic.claude-sonnet-4-5-20250929-v1:0", Provider: "bedrock", DisplayName: "Claude Sonnet 4.5 (Bedrock)",
		ContextWindow: 200000, MaxOutput: 64000, SupportsReasoning: true,
	},
}

// GetModelInfo returns the catalog entry for a model id or alias, or nil if
// unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical id. Unknown ids pass through.
func ResolveModel(modelID string) string {
	if info := GetModelInfo(modelID); info != nil {
		return info.ID
	}
	return modelID
}

// DefaultModel returns the default model for a provider, or nil if the
// catalog has no entry for it.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
