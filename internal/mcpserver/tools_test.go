package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/session"
)

// --- Fakes ---

type fakePage struct {
	url   string
	title string
}

func (p *fakePage) URL() string                           { return p.url }
func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }
func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.url = url
	return nil
}
func (p *fakePage) Back(context.Context) (bool, error) { return false, nil }
func (p *fakePage) AriaTree(context.Context) (string, error) {
	return `- link "More information...":`, nil
}
func (p *fakePage) Eval(_ context.Context, js string, _ ...any) (json.RawMessage, error) {
	if strings.Contains(js, "cursor") {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(`null`), nil
}
func (p *fakePage) EvalInFrame(ctx context.Context, _ string, js string, args ...any) (json.RawMessage, error) {
	return p.Eval(ctx, js, args...)
}
func (p *fakePage) FrameURLs(context.Context) []string { return nil }
func (p *fakePage) Click(context.Context, session.Locator, bool, float64) error {
	return nil
}
func (p *fakePage) ClickXY(context.Context, float64, float64, bool, float64) error {
	return nil
}
func (p *fakePage) Fill(context.Context, session.Locator, string) error { return nil }
func (p *fakePage) TypeText(context.Context, session.Locator, string, time.Duration, bool, float64) error {
	return nil
}
func (p *fakePage) Press(context.Context, string, *session.Locator) error    { return nil }
func (p *fakePage) Select(context.Context, session.Locator, string) error    { return nil }
func (p *fakePage) Scroll(context.Context, string, int, bool, float64) error { return nil }
func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	return []byte{0x89, 0x50}, nil
}
func (p *fakePage) SetFiles(context.Context, session.Locator, string) error { return nil }
func (p *fakePage) VisibleText(context.Context, int) (string, error)        { return "", nil }
func (p *fakePage) Close(context.Context) error                             { return nil }

type fakeHandle struct {
	pages []*fakePage
}

func (h *fakeHandle) Pages() []session.Page {
	out := make([]session.Page, len(h.pages))
	for i, p := range h.pages {
		out[i] = p
	}
	return out
}

func (h *fakeHandle) NewPage(_ context.Context, url string) (session.Page, error) {
	if url == "" {
		url = "about:blank"
	}
	p := &fakePage{url: url, title: "Example Domain"}
	h.pages = append(h.pages, p)
	return p, nil
}

func (h *fakeHandle) Cookies(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}
func (h *fakeHandle) SetCookies(context.Context, json.RawMessage) error { return nil }
func (h *fakeHandle) StorageState(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"cookies":[]}`), nil
}
func (h *fakeHandle) PID() int                    { return 7 }
func (h *fakeHandle) Close(context.Context) error { return nil }

type fakeTier struct{}

func (t *fakeTier) Number() int  { return 1 }
func (t *fakeTier) Name() string { return "fake" }
func (t *fakeTier) Detect() bool { return true }
func (t *fakeTier) Init(context.Context, session.LaunchOptions) (session.BrowserHandle, error) {
	return &fakeHandle{}, nil
}

// --- Helpers ---

func newTestMCP(t *testing.T) *Server {
	t.Helper()
	profiles, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	manager := session.NewManager(session.Options{
		Tiers:    map[int]session.Tier{1: &fakeTier{}},
		Profiles: profiles,
	})
	return NewServer(manager, actions.NewDispatcher(actions.DispatcherOptions{Manager: manager}))
}

func makeRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func resultMap(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("result not JSON: %v\n%s", err, resultText(t, result))
	}
	return out
}

// --- Tests ---

func TestLaunchActionClose(t *testing.T) {
	s := newTestMCP(t)

	result, err := s.handleLaunch(context.Background(), makeRequest("browser_launch", map[string]any{
		"tier": 1,
		"url":  "https://example.com",
	}))
	if err != nil {
		t.Fatalf("handleLaunch: %v", err)
	}
	if result.IsError {
		t.Fatalf("launch error: %s", resultText(t, result))
	}
	out := resultMap(t, result)
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id in launch result")
	}

	result, err = s.handleAction(context.Background(), makeRequest("browser_action", map[string]any{
		"session_id": id,
		"action":     "navigate",
		"params":     map[string]any{"url": "https://example.org"},
	}))
	if err != nil {
		t.Fatalf("handleAction: %v", err)
	}
	out = resultMap(t, result)
	if out["success"] != true || out["new_url"] != "https://example.org" {
		t.Errorf("navigate result = %v", out)
	}

	result, err = s.handleClose(context.Background(), makeRequest("browser_close", map[string]any{
		"session_id": id,
	}))
	if err != nil {
		t.Fatalf("handleClose: %v", err)
	}
	if resultMap(t, result)["success"] != true {
		t.Errorf("close result = %s", resultText(t, result))
	}
}

func TestActionRequiresSessionAndVerb(t *testing.T) {
	s := newTestMCP(t)
	result, err := s.handleAction(context.Background(), makeRequest("browser_action", map[string]any{
		"action": "navigate",
	}))
	if err != nil {
		t.Fatalf("handleAction: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error without session_id")
	}
	if !strings.Contains(resultText(t, result), "required") {
		t.Errorf("error text = %s", resultText(t, result))
	}
}

func TestSnapshotReturnsRefs(t *testing.T) {
	s := newTestMCP(t)

	result, _ := s.handleLaunch(context.Background(), makeRequest("browser_launch", map[string]any{
		"url": "https://example.com",
	}))
	id, _ := resultMap(t, result)["session_id"].(string)

	result, err := s.handleSnapshot(context.Background(), makeRequest("browser_snapshot", map[string]any{
		"session_id": id,
	}))
	if err != nil {
		t.Fatalf("handleSnapshot: %v", err)
	}
	out := resultMap(t, result)
	if out["success"] != true {
		t.Fatalf("snapshot = %v", out)
	}
	refs, _ := out["refs"].(map[string]any)
	if _, ok := refs["@e1"]; !ok {
		t.Errorf("refs = %v", refs)
	}
}

func TestStatusListsSessions(t *testing.T) {
	s := newTestMCP(t)

	result, err := s.handleStatus(context.Background(), makeRequest("browser_status", nil))
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	out := resultMap(t, result)
	sessions, _ := out["sessions"].([]any)
	if len(sessions) != 0 {
		t.Errorf("sessions = %v", sessions)
	}

	result, _ = s.handleLaunch(context.Background(), makeRequest("browser_launch", nil))
	id, _ := resultMap(t, result)["session_id"].(string)

	result, err = s.handleStatus(context.Background(), makeRequest("browser_status", map[string]any{
		"session_id": id,
	}))
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	out = resultMap(t, result)
	if out["session_id"] != id {
		t.Errorf("status = %v", out)
	}

	result, err = s.handleStatus(context.Background(), makeRequest("browser_status", map[string]any{
		"session_id": "nope",
	}))
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for unknown session")
	}
}
