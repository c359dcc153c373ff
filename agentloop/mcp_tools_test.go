package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/martinemde/agentcore/logging"
)

// fakeMCPSession serves two pages of tools and echoes calls.
type fakeMCPSession struct {
	listCalls int
	lastCall  *mcp.CallToolParams
	callErr   error
	closed    bool
}

func (f *fakeMCPSession) ListTools(_ context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	f.listCalls++
	if params.Cursor == "" {
		return &mcp.ListToolsResult{
			Tools:      []*mcp.Tool{{Name: "search", Description: "Search the index"}},
			NextCursor: "page-2",
		}, nil
	}
	return &mcp.ListToolsResult{Tools: []*mcp.Tool{{Name: "fetch", Description: "Fetch a URL"}}}, nil
}

func (f *fakeMCPSession) CallTool(_ context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.lastCall = params
	if f.callErr != nil {
		return nil, f.callErr
	}
	if params.Name == "fetch" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "404 not found"}},
			IsError: true,
		}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "result one; "}, &mcp.TextContent{Text: "result two"}},
	}, nil
}

func (f *fakeMCPSession) Close() error {
	f.closed = true
	return nil
}

func TestMCPServerTools(t *testing.T) {
	session := &fakeMCPSession{}
	server, err := NewMCPServer(context.Background(), "docs", session, logging.Discard())
	if err != nil {
		t.Fatalf("NewMCPServer: %v", err)
	}
	if session.listCalls != 2 {
		t.Errorf("ListTools called %d times, want 2", session.listCalls)
	}

	reg := NewToolRegistry()
	server.RegisterTools(reg)
	if got := reg.Names(); len(got) != 2 || got[0] != "search" || got[1] != "fetch" {
		t.Fatalf("names = %v", got)
	}
	if spec := reg.Specs()[0]; spec.Parameters["type"] != "object" {
		t.Errorf("schema = %+v", spec.Parameters)
	}

	out, err := reg.Get("search").Execute(context.Background(), map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || out.Output != "result one; result two" {
		t.Errorf("output = %+v", out)
	}
	if session.lastCall.Name != "search" {
		t.Errorf("called %q", session.lastCall.Name)
	}

	out, err = reg.Get("fetch").Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Success || out.Error != "404 not found" {
		t.Errorf("error output = %+v", out)
	}

	if err := server.Close(); err != nil || !session.closed {
		t.Errorf("Close: %v closed=%v", err, session.closed)
	}
}

func TestMCPToolTransportError(t *testing.T) {
	session := &fakeMCPSession{callErr: errors.New("pipe closed")}
	server, err := NewMCPServer(context.Background(), "docs", session, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	_, err = server.Tools()[0].Execute(context.Background(), nil)
	if err == nil || !errors.Is(err, session.callErr) {
		t.Errorf("err = %v", err)
	}
}
