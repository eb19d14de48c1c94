package livepreview

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/livepick/kit"
)

// RegisterMCP registers the preview tools on an MCP server.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	ep := s.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_render",
		Description: "Render generated component source into the preview. Compile and runtime errors come back as diagnostics.",
		InputSchema: inputSchema(map[string]any{
			"raw_code":   map[string]any{"type": "string", "description": "Component source (JSX)"},
			"stylesheet": map[string]any{"type": "string", "description": "CSS applied to the preview"},
		}, []string{"raw_code"}),
	}, ep.render, decode[renderRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_edit_mode",
		Description: "Turn element picking on or off.",
		InputSchema: inputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean"},
		}, []string{"enabled"}),
	}, ep.editMode, decode[editModeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_pick",
		Description: "Pick a rendered element by identity tag or CSS selector. Requires edit mode. Returns its snapshot.",
		InputSchema: inputSchema(map[string]any{
			"identity_tag": map[string]any{"type": "string", "description": "Value of data-element-id"},
			"selector":     map[string]any{"type": "string", "description": "CSS selector, first match wins"},
		}, nil),
	}, ep.pick, decode[pickRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_dispatch",
		Description: "Fire a DOM event (click, input, ...) at a rendered element and re-render if component state changed.",
		InputSchema: inputSchema(map[string]any{
			"identity_tag": map[string]any{"type": "string"},
			"event":        map[string]any{"type": "string", "description": "Event type, e.g. click"},
		}, []string{"identity_tag", "event"}),
	}, ep.dispatch, decode[dispatchRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_selection",
		Description: "Current selection, its validity and the edit-request context (prompt, sanitized HTML, markdown).",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.selection, decode[emptyRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_validate",
		Description: "Check the selection against the current tree and try to recover it if it went stale.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.validate, decode[emptyRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "preview_clear",
		Description: "Drop the current selection.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.clear, decode[emptyRequest])
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// decode unmarshals the tool arguments into a *T. Missing arguments
// decode to the zero value.
func decode[T any](req *mcp.CallToolRequest) (any, error) {
	var r T
	if args := req.Params.Arguments; len(args) > 0 {
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
