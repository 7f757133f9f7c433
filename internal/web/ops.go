package web

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/compact"
	"github.com/joestump/browserd/internal/errs"
	"github.com/joestump/browserd/internal/session"
)

// route dispatches one JSON request by its op field.
func (s *Server) route(ctx context.Context, req map[string]any) map[string]any {
	op, _ := req["op"].(string)
	switch op {
	case "launch":
		return s.opLaunch(ctx, req)
	case "action":
		return s.opAction(ctx, req)
	case "actions":
		return s.opBatch(ctx, req)
	case "snapshot":
		return s.opSnapshot(ctx, req)
	case "screenshot":
		return s.opScreenshot(ctx, req)
	case "close":
		return s.opClose(ctx, req)
	case "save":
		return s.opSave(ctx, req)
	case "status":
		return s.opStatus(ctx, req)
	case "profile":
		return s.opProfile(req)
	case "compact":
		return s.opCompact(req)
	case "ping":
		return map[string]any{"success": true, "message": "pong"}
	default:
		return fail(fmt.Sprintf("Unknown op: %s. "+
			"Valid: launch, action, actions, snapshot, screenshot, close, save, status, profile, compact, ping", op))
	}
}

func (s *Server) opLaunch(ctx context.Context, req map[string]any) map[string]any {
	launch := session.LaunchRequest{
		Tier:    intField(req, "tier"),
		Profile: strField(req, "profile"),
		URL:     strField(req, "url"),
	}
	if vp, ok := req["viewport"].(map[string]any); ok {
		launch.Viewport = &session.Viewport{
			Width:  intField(vp, "width"),
			Height: intField(vp, "height"),
		}
	}
	res, err := s.manager.Launch(ctx, launch)
	if err != nil {
		return failErr(err)
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
	return out
}

func (s *Server) opAction(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	params, _ := req["params"].(map[string]any)
	return s.dispatch.Execute(ctx, id, strField(req, "action"), params)
}

func (s *Server) opBatch(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	list, ok := req["actions"].([]any)
	if !ok {
		return fail("Missing or invalid 'actions' list")
	}
	steps := make([]actions.BatchStep, 0, len(list))
	for _, entry := range list {
		m, _ := entry.(map[string]any)
		params, _ := m["params"].(map[string]any)
		steps = append(steps, actions.BatchStep{
			Action: strField(m, "action"),
			Params: params,
		})
	}
	stopOnError := true
	if v, ok := req["stop_on_error"].(bool); ok {
		stopOnError = v
	}
	return s.dispatch.ExecuteBatch(ctx, id, steps, stopOnError)
}

func (s *Server) opSnapshot(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	params := map[string]any{}
	for _, key := range []string{"compact", "max_depth", "cursor_interactive"} {
		if v, ok := req[key]; ok {
			params[key] = v
		}
	}
	return s.dispatch.Execute(ctx, id, "snapshot", params)
}

func (s *Server) opScreenshot(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	params := map[string]any{}
	if v, ok := req["full_page"]; ok {
		params["full_page"] = v
	}
	return s.dispatch.Execute(ctx, id, "screenshot", params)
}

func (s *Server) opClose(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	if name := strField(req, "save_profile"); name != "" {
		if _, err := s.manager.SaveState(ctx, id, name); err != nil {
			return failErr(err)
		}
	}
	if err := s.manager.Close(ctx, id); err != nil {
		return failErr(err)
	}
	return map[string]any{"success": true, "session_id": id}
}

func (s *Server) opSave(ctx context.Context, req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	name, err := s.manager.SaveState(ctx, id, strField(req, "profile"))
	if err != nil {
		return failErr(err)
	}
	return map[string]any{"success": true, "profile": name}
}

func (s *Server) opStatus(ctx context.Context, req map[string]any) map[string]any {
	if id := strField(req, "session_id"); id != "" {
		info := s.manager.SessionInfo(ctx, id)
		if info == nil {
			return fail(fmt.Sprintf("Session %s not found", id))
		}
		out := toMap(info)
		out["success"] = true
		return out
	}
	return map[string]any{"success": true, "sessions": s.manager.List()}
}

func (s *Server) opProfile(req map[string]any) map[string]any {
	sub := strField(req, "action")
	if sub == "" {
		sub = "list"
	}
	switch sub {
	case "create":
		meta, err := s.profiles.Create(strField(req, "name"), strField(req, "domain"), intField(req, "tier"))
		if err != nil {
			return failErr(err)
		}
		return map[string]any{"success": true, "profile": meta}
	case "load":
		info, err := s.profiles.Load(strField(req, "name"))
		if err != nil || info == nil {
			return map[string]any{"success": false, "profile": nil}
		}
		return map[string]any{"success": true, "profile": info}
	case "list":
		infos, err := s.profiles.List()
		if err != nil {
			return failErr(err)
		}
		return map[string]any{"success": true, "profiles": infos}
	case "delete":
		if err := s.profiles.Delete(strField(req, "name")); err != nil {
			return failErr(err)
		}
		return map[string]any{"success": true}
	default:
		return fail(fmt.Sprintf("Unknown profile action: %s", sub))
	}
}

// opCompact drives history compaction for a session. Without a summary it
// returns the summarization payload when the gates are met; with one it
// injects the summary and returns the compacted history.
func (s *Server) opCompact(req map[string]any) map[string]any {
	id := strField(req, "session_id")
	if id == "" {
		return fail("Missing session_id")
	}
	sess := s.manager.Get(id)
	if sess == nil {
		return fail(fmt.Sprintf("Session %s not found or expired", id))
	}
	sess.Lock()
	defer sess.Unlock()

	if summary := strField(req, "summary"); summary != "" {
		history := sess.Compaction.InjectSummary(summary, parseMessages(req["keep_messages"]))
		return map[string]any{"success": true, "messages": history}
	}

	cr := sess.Compaction.Prepare(parseMessages(req["messages"]))
	if cr == nil {
		return map[string]any{"success": true, "compact": false}
	}
	out := toMap(cr)
	out["success"] = true
	out["compact"] = true
	return out
}

func parseMessages(v any) []compact.Message {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]compact.Message, 0, len(list))
	for _, entry := range list {
		m, _ := entry.(map[string]any)
		out = append(out, compact.Message{
			Role:    strField(m, "role"),
			Content: strField(m, "content"),
		})
	}
	return out
}

func fail(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func failErr(err error) map[string]any {
	e := errs.Classify(err)
	return map[string]any{
		"success": false,
		"error":   e.AgentMessage(),
		"code":    e.Code,
	}
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// toMap round-trips a struct through JSON so op responses stay flat maps.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
