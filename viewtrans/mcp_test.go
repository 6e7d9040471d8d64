package viewtrans

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "viewtrans-test", Version: "0.1.0"}

func mcpSession(t *testing.T, reg *Registry) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	reg.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		return result, ""
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return result, tc.Text
}

func TestMCP_StartStatusStop(t *testing.T) {
	reg, f := newRegistry(t)
	session := mcpSession(t, reg)

	res, text := mcpCall(t, session, "viewtrans_start", map[string]any{"tab_id": "tab-1"})
	if res.IsError {
		t.Fatalf("start: %s", text)
	}
	var st Stats
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.State != Active || !f.fake.Connected() {
		t.Fatalf("state after start: %v", st.State)
	}

	_, text = mcpCall(t, session, "viewtrans_status", map[string]any{})
	var all []Stats
	if err := json.Unmarshal([]byte(text), &all); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(all) != 1 || all[0].TabID != "tab-1" {
		t.Fatalf("status: %+v", all)
	}

	res, text = mcpCall(t, session, "viewtrans_stop", map[string]any{"tab_id": "tab-1"})
	if res.IsError {
		t.Fatalf("stop: %s", text)
	}
	if f.fake.Connected() {
		t.Fatal("observer still connected after stop")
	}
}

func TestMCP_UnknownTab(t *testing.T) {
	reg, _ := newRegistry(t)
	session := mcpSession(t, reg)

	res, _ := mcpCall(t, session, "viewtrans_start", map[string]any{"tab_id": "ghost"})
	if !res.IsError {
		t.Fatal("expected tool error for unknown tab")
	}
}
