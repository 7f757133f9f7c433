package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/browserd/internal/session"
)

// --- Tool Definitions ---

func launchTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"browser_launch",
		"Launch a browser session at the given stealth tier, optionally restoring a saved profile and navigating to a first URL.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"tier": {
					"type": "integer",
					"description": "Stealth tier: 1 baseline, 2 stealth, 3 hardened (default 1)"
				},
				"profile": {
					"type": "string",
					"description": "Saved profile name to restore cookies and storage from"
				},
				"url": {
					"type": "string",
					"description": "URL to navigate to after launch"
				},
				"viewport": {
					"type": "object",
					"description": "Page dimensions",
					"properties": {
						"width": {"type": "integer"},
						"height": {"type": "integer"}
					}
				}
			}
		}`),
	)
}

func actionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"browser_action",
		"Execute one action verb (navigate, click, fill, type, scroll, press, select, evaluate, ...) against a session. Element refs come from browser_snapshot.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Session to act on"
				},
				"action": {
					"type": "string",
					"description": "Action verb"
				},
				"params": {
					"type": "object",
					"description": "Verb-specific parameters (ref, url, text, ...)"
				}
			},
			"required": ["session_id", "action"]
		}`),
	)
}

func snapshotTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"browser_snapshot",
		"Capture the accessibility tree of the active page with @eN element refs for subsequent actions.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Session to snapshot"
				},
				"compact": {
					"type": "boolean",
					"description": "Flatten structural nodes (default true)"
				},
				"max_depth": {
					"type": "integer",
					"description": "Maximum tree depth (default 10)"
				},
				"cursor_interactive": {
					"type": "boolean",
					"description": "Include cursor-interactive elements missing ARIA roles (default true)"
				}
			},
			"required": ["session_id"]
		}`),
	)
}

func closeTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"browser_close",
		"Close a browser session, optionally saving its cookies and storage to a named profile first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Session to close"
				},
				"save_profile": {
					"type": "string",
					"description": "Profile name to save state to before closing"
				}
			},
			"required": ["session_id"]
		}`),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"browser_status",
		"Report one session's state, or list all active sessions when no session_id is given.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Session to inspect (omit to list all)"
				}
			}
		}`),
	)
}

// --- Tool Handlers ---

// launchArgs mirrors the JSON schema for browser_launch.
type launchArgs struct {
	Tier     int               `json:"tier"`
	Profile  string            `json:"profile"`
	URL      string            `json:"url"`
	Viewport *session.Viewport `json:"viewport"`
}

func (s *Server) handleLaunch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args launchArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	res, err := s.manager.Launch(ctx, session.LaunchRequest{
		Tier:     args.Tier,
		Profile:  args.Profile,
		Viewport: args.Viewport,
		URL:      args.URL,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("launch failed: %v", err)), nil
	}

	out := map[string]any{
		"success":    true,
		"session_id": res.Session.ID,
		"tier":       res.Session.Tier,
	}
	if res.URL != "" {
		out["url"] = res.URL
	}
	if res.Title != "" {
		out["title"] = res.Title
	}
	if res.Warning != "" {
		out["warning"] = res.Warning
	}
	return resultJSON(out)
}

// actionArgs mirrors the JSON schema for browser_action.
type actionArgs struct {
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
}

func (s *Server) handleAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args actionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" || args.Action == "" {
		return mcp.NewToolResultError("session_id and action are required"), nil
	}
	return resultJSON(s.dispatch.Execute(ctx, args.SessionID, args.Action, args.Params))
}

// snapshotArgs mirrors the JSON schema for browser_snapshot. Pointer fields
// distinguish "omitted" from explicit false/zero.
type snapshotArgs struct {
	SessionID         string `json:"session_id"`
	Compact           *bool  `json:"compact"`
	MaxDepth          *int   `json:"max_depth"`
	CursorInteractive *bool  `json:"cursor_interactive"`
}

func (s *Server) handleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args snapshotArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	params := map[string]any{}
	if args.Compact != nil {
		params["compact"] = *args.Compact
	}
	if args.MaxDepth != nil {
		params["max_depth"] = *args.MaxDepth
	}
	if args.CursorInteractive != nil {
		params["cursor_interactive"] = *args.CursorInteractive
	}
	return resultJSON(s.dispatch.Execute(ctx, args.SessionID, "snapshot", params))
}

// closeArgs mirrors the JSON schema for browser_close.
type closeArgs struct {
	SessionID   string `json:"session_id"`
	SaveProfile string `json:"save_profile"`
}

func (s *Server) handleClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args closeArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if args.SaveProfile != "" {
		if _, err := s.manager.SaveState(ctx, args.SessionID, args.SaveProfile); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("save profile: %v", err)), nil
		}
	}
	if err := s.manager.Close(ctx, args.SessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close: %v", err)), nil
	}
	return resultJSON(map[string]any{"success": true, "session_id": args.SessionID})
}

// statusArgs mirrors the JSON schema for browser_status.
type statusArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args statusArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SessionID != "" {
		info := s.manager.SessionInfo(ctx, args.SessionID)
		if info == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Session %s not found", args.SessionID)), nil
		}
		return resultJSON(info)
	}
	return resultJSON(map[string]any{"success": true, "sessions": s.manager.List()})
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
