// Package unifiedllm defines the provider-neutral conversation model and the
// adapters that translate it to and from concrete LLM wire protocols.
//
// # Content model
//
// A Message is a role plus an ordered list of ContentBlocks. A block is text,
// reasoning, a tool call or a tool result. Reasoning blocks carry an opaque
// continuity token that adapters must hand back to the provider byte for byte
// on the next request.
//
// # Adapters
//
//   - OpenAIAdapter: the OpenAI Responses API (reference adapter)
//   - AnthropicAdapter: the Anthropic Messages API
//   - BedrockAdapter: Anthropic models through AWS Bedrock InvokeModel
//   - GollmAdapter: text-only providers reachable through gollm
//
// # Client
//
// Client keeps adapters in registration order. The first one registered is
// the primary. Middleware wraps every Complete call:
//
//	adapter, _ := unifiedllm.NewOpenAIAdapter(unifiedllm.OpenAIConfig{APIKey: key})
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider(adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//	resp, err := client.Complete(ctx, unifiedllm.ChatRequest{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
package unifiedllm
