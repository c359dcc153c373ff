package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/martinemde/agentcore/logging"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockConfig configures Anthropic models served through AWS Bedrock.
// Credentials come from the default AWS chain.
type BedrockConfig struct {
	Region         string
	Model          string // Bedrock model id; default: catalog default for "bedrock"
	MaxTokens      int
	ThinkingBudget int
	Logger         *slog.Logger
}

// BedrockInvoker is the slice of the bedrockruntime client the adapter uses.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockAdapter sends Anthropic Messages bodies through InvokeModel.
type BedrockAdapter struct {
	cfg    BedrockConfig
	client BedrockInvoker
	logger *slog.Logger
}

// NewBedrockAdapter loads the default AWS configuration and builds a runtime
// client for the configured region.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewConfigurationError("bedrock: load aws config: %v", err)
	}
	return NewBedrockAdapterWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg)), nil
}

// NewBedrockAdapterWithClient builds the adapter around an existing invoker.
func NewBedrockAdapterWithClient(cfg BedrockConfig, client BedrockInvoker) *BedrockAdapter {
	if cfg.Model == "" {
		if info := DefaultModel("bedrock"); info != nil {
			cfg.Model = info.ID
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Named("bedrock")
	}
	return &BedrockAdapter{cfg: cfg, client: client, logger: logger}
}

// Name returns the provider identifier.
func (a *BedrockAdapter) Name() string { return "bedrock" }

// Complete invokes the model with an Anthropic Messages body.
func (a *BedrockAdapter) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := a.cfg.Model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}
	body, err := bedrockBody(req, a.cfg.MaxTokens, a.cfg.ThinkingBudget, a.logger)
	if err != nil {
		return nil, err
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, a.translateError(err)
	}

	var msg anthropic.Message
	if err := json.Unmarshal(out.Body, &msg); err != nil {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "decode bedrock response", Cause: err},
			Provider: a.Name(),
		}
	}
	resp := parseAnthropicMessage(&msg, a.Name(), a.logger)
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// bedrockBody reuses the Messages params; Bedrock takes the model in the URL
// and wants anthropic_version in the body instead.
func bedrockBody(req ChatRequest, maxTokens, thinkingBudget int, logger *slog.Logger) ([]byte, error) {
	params, err := buildAnthropicParams(req, "", maxTokens, thinkingBudget, logger)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "encode bedrock request", Cause: err},
			Provider: "bedrock",
		}}
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	delete(body, "model")
	body["anthropic_version"] = bedrockAnthropicVersion
	return json.Marshal(body)
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func (a *BedrockAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() > 0 {
		return ErrorFromStatusCode(statusErr.HTTPStatusCode(), err.Error(), a.Name(), "", nil, err)
	}
	return &NetworkError{SDKError: SDKError{Message: "bedrock request failed", Cause: err}, Provider: a.Name()}
}
