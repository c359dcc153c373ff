// Package agentloop runs the agent orchestration loop on top of unifiedllm.
//
// A Session sends the transcript and tool specs to the client's primary
// provider, executes the tool calls in the reply concurrently, appends the
// results in call order, and repeats until the model answers in plain text.
// When the iteration budget runs out it makes one final call with tools
// disabled. Cancelling the context stops the loop between steps.
//
// # Building blocks
//
//   - Session: the loop itself and its Result.
//   - Executor: concurrent tool execution with panic recovery and hooks.
//   - ToolRegistry: named tools, schema normalization, glob filtering.
//   - ContextManager: transcript storage (MemoryContext, RedisContext).
//   - HookSink: best-effort lifecycle notifications.
//   - Workspace and RegisterBuiltinTools: file and shell tools.
//   - MCPServer: tools served over the Model Context Protocol.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewOpenAIAdapter(unifiedllm.OpenAIConfig{APIKey: key})
//	client := unifiedllm.NewClient(unifiedllm.WithProvider(adapter))
//
//	tools := agentloop.NewToolRegistry()
//	agentloop.RegisterBuiltinTools(tools, agentloop.NewWorkspace("."))
//
//	session := agentloop.NewSession(client, agentloop.WithTools(tools))
//	result, err := session.Execute(ctx, "Create a hello.go file")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Text)
package agentloop
