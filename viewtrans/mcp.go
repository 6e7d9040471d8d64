package viewtrans

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type tabRequest struct {
	TabID string `json:"tab_id"`
}

// RegisterMCP registers viewtrans_start, viewtrans_stop and
// viewtrans_status on srv.
func (reg *Registry) RegisterMCP(srv *mcp.Server) {
	tabSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tab_id": map[string]any{"type": "string", "description": "Tab identifier"},
		},
		"required": []string{"tab_id"},
	}

	reg.addTool(srv, &mcp.Tool{
		Name:        "viewtrans_start",
		Description: "Start translating the visible text of a tab.",
		InputSchema: tabSchema,
	}, func(ctx context.Context, tabID string) (any, error) {
		if err := reg.Apply(ctx, tabID, StartTranslation{}); err != nil {
			return nil, err
		}
		return reg.stats(tabID)
	})

	reg.addTool(srv, &mcp.Tool{
		Name:        "viewtrans_stop",
		Description: "Stop translating a tab. Rendered translations stay on the page.",
		InputSchema: tabSchema,
	}, func(ctx context.Context, tabID string) (any, error) {
		if err := reg.Apply(ctx, tabID, StopTranslation{}); err != nil {
			return nil, err
		}
		return reg.stats(tabID)
	})

	reg.addTool(srv, &mcp.Tool{
		Name:        "viewtrans_status",
		Description: "Translation state and counters of every tab, or of one tab when tab_id is set.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tab_id": map[string]any{"type": "string", "description": "Optional tab identifier"},
			},
		},
	}, func(_ context.Context, tabID string) (any, error) {
		if tabID == "" {
			return reg.List(), nil
		}
		return reg.stats(tabID)
	})
}

func (reg *Registry) stats(tabID string) (Stats, error) {
	s, ok := reg.Get(tabID)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrNoSession, tabID)
	}
	return s.Stats(), nil
}

func (reg *Registry) addTool(srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, tabID string) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in tabRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		out, err := fn(ctx, in.TabID)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
