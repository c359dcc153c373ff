package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/martinemde/agentcore/logging"
)

// MCPSession is the part of *mcp.ClientSession the tool bridge uses.
type MCPSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// MCPServer is a connected MCP server and the tools it advertises.
type MCPServer struct {
	Name    string
	session MCPSession
	tools   []*MCPTool
	logger  *slog.Logger
}

// ConnectMCPServer starts command as a stdio MCP server and lists its tools.
func ConnectMCPServer(ctx context.Context, name, command string, args []string, logger *slog.Logger) (*MCPServer, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client := mcp.NewClient(&mcp.Implementation{Name: "agentcore", Version: "v0.1.0"}, nil)
	session, err := client.Connect(ctx, mcp.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, fmt.Errorf("connect mcp server %s: %w", name, err)
	}
	server, err := NewMCPServer(ctx, name, session, logger)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return server, nil
}

// NewMCPServer wraps an existing session, paging through ListTools.
func NewMCPServer(ctx context.Context, name string, session MCPSession, logger *slog.Logger) (*MCPServer, error) {
	if logger == nil {
		logger = logging.Named("mcp")
	}
	s := &MCPServer{Name: name, session: session, logger: logger.With("server", name)}

	params := &mcp.ListToolsParams{}
	for {
		page, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list tools from mcp server %s: %w", name, err)
		}
		for _, t := range page.Tools {
			s.tools = append(s.tools, &MCPTool{
				server:      s,
				name:        t.Name,
				description: t.Description,
				schema:      t.InputSchema,
			})
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}
	s.logger.Info("mcp server connected", "tools", len(s.tools))
	return s, nil
}

// Tools returns the server's tools.
func (s *MCPServer) Tools() []Tool {
	out := make([]Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t
	}
	return out
}

// RegisterTools adds every server tool to reg.
func (s *MCPServer) RegisterTools(reg *ToolRegistry) {
	for _, t := range s.tools {
		reg.Register(t)
	}
}

// Close ends the session, which also stops a command-backed server.
func (s *MCPServer) Close() error {
	return s.session.Close()
}

// MCPTool forwards calls to a tool on an MCP server.
type MCPTool struct {
	server      *MCPServer
	name        string
	description string
	schema      any
}

func (t *MCPTool) Name() string        { return t.name }
func (t *MCPTool) Description() string { return t.description }
func (t *MCPTool) InputSchema() any    { return t.schema }

// Execute calls the remote tool. Text content is concatenated; a result
// flagged IsError becomes a failed output.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (ToolOutput, error) {
	res, err := t.server.session.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return ToolOutput{}, fmt.Errorf("call %s on %s: %w", t.name, t.server.Name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return ToolOutput{Error: sb.String()}, nil
	}
	return OK(sb.String()), nil
}
