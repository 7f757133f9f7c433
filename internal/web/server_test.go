package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/config"
	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/session"
)

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
func (p *fakePage) Back(context.Context) (bool, error)       { return false, nil }
func (p *fakePage) AriaTree(context.Context) (string, error) { return `- button "Go":`, nil }
func (p *fakePage) Eval(_ context.Context, js string, _ ...any) (json.RawMessage, error) {
	if strings.Contains(js, "cursor") {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(`null`), nil
}
func (p *fakePage) EvalInFrame(ctx context.Context, _ string, js string, args ...any) (json.RawMessage, error) {
	return p.Eval(ctx, js, args...)
}
func (p *fakePage) FrameURLs(context.Context) []string                       { return nil }
func (p *fakePage) Click(context.Context, session.Locator, bool, float64) error { return nil }
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
func (h *fakeHandle) PID() int                    { return 99 }
func (h *fakeHandle) Close(context.Context) error { return nil }

type fakeTier struct{}

func (t *fakeTier) Number() int  { return 1 }
func (t *fakeTier) Name() string { return "fake" }
func (t *fakeTier) Detect() bool { return true }
func (t *fakeTier) Init(context.Context, session.LaunchOptions) (session.BrowserHandle, error) {
	return &fakeHandle{}, nil
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	profiles, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	manager := session.NewManager(session.Options{
		Tiers:    map[int]session.Tier{1: &fakeTier{}},
		Profiles: profiles,
	})
	dispatch := actions.NewDispatcher(actions.DispatcherOptions{Manager: manager})
	return New(cfg, manager, dispatch, profiles)
}

func post(t *testing.T, s *Server, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, out
}

func TestPing(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, out := post(t, s, `{"op":"ping"}`, nil)
	if out["success"] != true || out["message"] != "pong" {
		t.Errorf("got %v", out)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	s := newTestServer(t, config.Config{AuthToken: "sekrit"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %v", out["status"])
	}
	if out["active_sessions"] != float64(0) {
		t.Errorf("active_sessions = %v", out["active_sessions"])
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	s := newTestServer(t, config.Config{AuthToken: "sekrit"})

	rec, out := post(t, s, `{"op":"ping"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if out["success"] != false {
		t.Errorf("got %v", out)
	}

	rec, out = post(t, s, `{"op":"ping"}`, map[string]string{"Authorization": "Bearer sekrit"})
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Errorf("authorized request failed: %d %v", rec.Code, out)
	}
}

func TestInvalidJSON(t *testing.T) {
	s := newTestServer(t, config.Config{})
	rec, out := post(t, s, `{"op":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "Invalid JSON") {
		t.Errorf("error = %q", msg)
	}
}

func TestUnknownOp(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, out := post(t, s, `{"op":"teleport"}`, nil)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "Unknown op: teleport") || !strings.Contains(msg, "launch") {
		t.Errorf("error = %q", msg)
	}
}

func TestLaunchStatusClose(t *testing.T) {
	s := newTestServer(t, config.Config{})

	_, out := post(t, s, `{"op":"launch","tier":1,"url":"https://example.com"}`, nil)
	if out["success"] != true {
		t.Fatalf("launch failed: %v", out)
	}
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id in launch response")
	}
	if out["title"] != "Example Domain" {
		t.Errorf("title = %v", out["title"])
	}

	_, out = post(t, s, `{"op":"status","session_id":"`+id+`"}`, nil)
	if out["success"] != true || out["session_id"] != id {
		t.Errorf("status = %v", out)
	}

	_, out = post(t, s, `{"op":"status"}`, nil)
	sessions, _ := out["sessions"].([]any)
	if len(sessions) != 1 {
		t.Errorf("sessions = %v", out["sessions"])
	}

	_, out = post(t, s, `{"op":"close","session_id":"`+id+`"}`, nil)
	if out["success"] != true {
		t.Errorf("close = %v", out)
	}
	_, out = post(t, s, `{"op":"status","session_id":"`+id+`"}`, nil)
	if out["success"] != false {
		t.Errorf("closed session still reported: %v", out)
	}
}

func TestActionRequiresSessionID(t *testing.T) {
	s := newTestServer(t, config.Config{})
	for _, body := range []string{
		`{"op":"action","action":"wait"}`,
		`{"op":"actions","actions":[]}`,
		`{"op":"snapshot"}`,
		`{"op":"screenshot"}`,
		`{"op":"close"}`,
		`{"op":"save"}`,
	} {
		_, out := post(t, s, body, nil)
		msg, _ := out["error"].(string)
		if out["success"] != false || msg != "Missing session_id" {
			t.Errorf("%s -> %v", body, out)
		}
	}
}

func TestBatchListValidation(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, out := post(t, s, `{"op":"launch"}`, nil)
	id, _ := out["session_id"].(string)

	_, out = post(t, s, `{"op":"actions","session_id":"`+id+`"}`, nil)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "'actions' list") {
		t.Errorf("error = %q", msg)
	}

	_, out = post(t, s, `{"op":"actions","session_id":"`+id+`","actions":[{"action":"wait","params":{"ms":1}}]}`, nil)
	if out["success"] != true {
		t.Errorf("batch = %v", out)
	}
}

func TestProfileOps(t *testing.T) {
	s := newTestServer(t, config.Config{})

	_, out := post(t, s, `{"op":"profile","action":"create","name":"work","domain":"example.com","tier":2}`, nil)
	if out["success"] != true {
		t.Fatalf("create = %v", out)
	}

	_, out = post(t, s, `{"op":"profile","action":"list"}`, nil)
	profiles, _ := out["profiles"].([]any)
	if out["success"] != true || len(profiles) != 1 {
		t.Errorf("list = %v", out)
	}

	_, out = post(t, s, `{"op":"profile","action":"load","name":"work"}`, nil)
	if out["success"] != true {
		t.Errorf("load = %v", out)
	}

	_, out = post(t, s, `{"op":"profile","action":"delete","name":"work"}`, nil)
	if out["success"] != true {
		t.Errorf("delete = %v", out)
	}

	_, out = post(t, s, `{"op":"profile","action":"shred"}`, nil)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "Unknown profile action") {
		t.Errorf("error = %q", msg)
	}
}

func TestCompactGatesNotMet(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, out := post(t, s, `{"op":"launch"}`, nil)
	id, _ := out["session_id"].(string)

	_, out = post(t, s, `{"op":"compact","session_id":"`+id+`","messages":[{"role":"user","content":"hi"}]}`, nil)
	if out["success"] != true || out["compact"] != false {
		t.Errorf("compact = %v", out)
	}
}
