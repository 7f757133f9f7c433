package actions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/ratelimit"
	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/snapshot"
)

// fakePage is a scriptable Page for handler and dispatcher tests.
type fakePage struct {
	url     string
	title   string
	aria    string
	visible string
	backOK  bool
	parent  *fakeHandle

	clickFunc func() error
	evalFunc  func(js string, args ...any) (json.RawMessage, error)

	typed    string
	filled   string
	scrolled int
}

func (p *fakePage) URL() string                           { return p.url }
func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.url = url
	return nil
}

func (p *fakePage) Back(context.Context) (bool, error) { return p.backOK, nil }

func (p *fakePage) AriaTree(context.Context) (string, error) { return p.aria, nil }

func (p *fakePage) Eval(_ context.Context, js string, args ...any) (json.RawMessage, error) {
	if p.evalFunc != nil {
		return p.evalFunc(js, args...)
	}
	if strings.Contains(js, "cursor") {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(`null`), nil
}

func (p *fakePage) EvalInFrame(_ context.Context, _ string, js string, args ...any) (json.RawMessage, error) {
	return p.Eval(context.Background(), js, args...)
}

func (p *fakePage) FrameURLs(context.Context) []string { return nil }

func (p *fakePage) Click(context.Context, session.Locator, bool, float64) error {
	if p.clickFunc != nil {
		return p.clickFunc()
	}
	return nil
}

func (p *fakePage) ClickXY(context.Context, float64, float64, bool, float64) error { return nil }

func (p *fakePage) Fill(_ context.Context, _ session.Locator, value string) error {
	p.filled = value
	return nil
}

func (p *fakePage) TypeText(_ context.Context, _ session.Locator, text string, _ time.Duration, _ bool, _ float64) error {
	p.typed = text
	return nil
}

func (p *fakePage) Press(context.Context, string, *session.Locator) error { return nil }
func (p *fakePage) Select(context.Context, session.Locator, string) error { return nil }
func (p *fakePage) Scroll(_ context.Context, _ string, amount int, _ bool, _ float64) error {
	p.scrolled = amount
	return nil
}
func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}
func (p *fakePage) SetFiles(context.Context, session.Locator, string) error { return nil }

func (p *fakePage) VisibleText(context.Context, int) (string, error) { return p.visible, nil }

func (p *fakePage) Close(context.Context) error {
	if p.parent != nil {
		kept := p.parent.pages[:0]
		for _, q := range p.parent.pages {
			if q != p {
				kept = append(kept, q)
			}
		}
		p.parent.pages = kept
	}
	return nil
}

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
	p := &fakePage{url: url, parent: h}
	if url == "" {
		p.url = "about:blank"
	}
	h.pages = append(h.pages, p)
	return p, nil
}

func (h *fakeHandle) Cookies(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[{"name":"sid","value":"abc"}]`), nil
}
func (h *fakeHandle) SetCookies(context.Context, json.RawMessage) error { return nil }
func (h *fakeHandle) StorageState(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"cookies":[]}`), nil
}
func (h *fakeHandle) PID() int                    { return 4242 }
func (h *fakeHandle) Close(context.Context) error { return nil }

type fakeTier struct {
	last *fakeHandle
}

func (t *fakeTier) Number() int  { return 1 }
func (t *fakeTier) Name() string { return "fake" }
func (t *fakeTier) Detect() bool { return true }

func (t *fakeTier) Init(context.Context, session.LaunchOptions) (session.BrowserHandle, error) {
	t.last = &fakeHandle{}
	return t.last, nil
}

// newTestSession launches a session backed by fakes and returns the active
// fake page for scripting.
func newTestSession(t *testing.T, opts DispatcherOptions) (*Dispatcher, *session.Session, *fakePage) {
	t.Helper()
	profiles, err := profile.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tier := &fakeTier{}
	m := session.NewManager(session.Options{
		Tiers:    map[int]session.Tier{1: tier},
		Profiles: profiles,
	})
	res, err := m.Launch(context.Background(), session.LaunchRequest{Tier: 1})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	opts.Manager = m
	return NewDispatcher(opts), res.Session, tier.last.pages[0]
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"@e1", "@e1", true},
		{"ref=e12", "@e12", true},
		{"e3", "@e3", true},
		{" @e4 ", "@e4", true},
		{"button", "", false},
		{"e", "", false},
		{"e1x", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseRef(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseRef(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestResolveRef(t *testing.T) {
	nth := 2
	refMap := snapshot.RefMap{
		"@e1": {Role: "button", Name: "Submit"},
		"@e2": {Role: "link", Name: "Docs", Nth: &nth},
		"@e3": {Role: "clickable", Name: "Card", CSS: "#card"},
	}

	loc, e := ResolveRef(refMap, "@e1")
	if e != nil {
		t.Fatalf("resolve @e1: %v", e)
	}
	if loc.Role != "button" || loc.Name != "Submit" || loc.HasNth {
		t.Errorf("loc = %+v", loc)
	}

	loc, e = ResolveRef(refMap, "e2")
	if e != nil {
		t.Fatalf("resolve e2: %v", e)
	}
	if !loc.HasNth || loc.Nth != 2 {
		t.Errorf("nth not carried: %+v", loc)
	}

	loc, e = ResolveRef(refMap, "ref=e3")
	if e != nil {
		t.Fatalf("resolve ref=e3: %v", e)
	}
	if loc.CSS != "#card" || loc.Role != "" {
		t.Errorf("cursor ref should resolve by CSS: %+v", loc)
	}

	if _, e = ResolveRef(refMap, "@e99"); e == nil || e.Code != "REF_NOT_FOUND" {
		t.Errorf("stale ref error = %v", e)
	}
}

func TestNavigateMissingURL(t *testing.T) {
	page := &fakePage{url: "about:blank"}
	r := Execute(context.Background(), page, "navigate", nil, &Context{})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("expected failure without url")
	}
	if !strings.Contains(r["error"].(string), "url") {
		t.Errorf("error = %v", r["error"])
	}
}

func TestUnknownVerb(t *testing.T) {
	page := &fakePage{}
	r := Execute(context.Background(), page, "teleport", nil, &Context{})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("unknown verb should fail")
	}
	if !strings.Contains(r["error"].(string), "Unknown action: teleport") {
		t.Errorf("error = %v", r["error"])
	}
}

func TestClickNavigationDuringClickIsSuccess(t *testing.T) {
	page := &fakePage{url: "https://a.example/", title: "B"}
	page.clickFunc = func() error {
		page.url = "https://b.example/"
		return errors.New("execution context was destroyed")
	}
	ac := &Context{RefMap: snapshot.RefMap{"@e1": {Role: "button", Name: "Go"}}}

	r := Execute(context.Background(), page, "click", map[string]any{"ref": "@e1"}, ac)
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("click should succeed when the page navigated: %v", r["error"])
	}
	if changed, _ := r["page_changed"].(bool); !changed {
		t.Error("page_changed not set")
	}
	if r["new_url"] != "https://b.example/" {
		t.Errorf("new_url = %v", r["new_url"])
	}
}

func TestClickRefNotFound(t *testing.T) {
	page := &fakePage{url: "https://a.example/"}
	r := Execute(context.Background(), page, "click", map[string]any{"ref": "@e7"}, &Context{RefMap: snapshot.RefMap{}})
	if r["code"] != "REF_NOT_FOUND" {
		t.Errorf("code = %v", r["code"])
	}
	if !strings.Contains(r["error"].(string), "snapshot") {
		t.Errorf("error should advise a snapshot: %v", r["error"])
	}
}

func TestGoBackNoHistory(t *testing.T) {
	page := &fakePage{url: "https://a.example/", backOK: false}
	r := Execute(context.Background(), page, "go_back", nil, &Context{})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("expected failure with empty history")
	}
	if r["error"] != "No browser history to go back to." {
		t.Errorf("error = %v", r["error"])
	}
}

func TestEvaluateDisabled(t *testing.T) {
	page := &fakePage{}
	r := Execute(context.Background(), page, "evaluate", map[string]any{"js": "1+1"}, &Context{EvaluateEnabled: false})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("evaluate should be gated off")
	}
}

func TestEvaluateTruncatesLongResults(t *testing.T) {
	big, _ := json.Marshal(strings.Repeat("x", 60000))
	page := &fakePage{evalFunc: func(string, ...any) (json.RawMessage, error) {
		return json.RawMessage(big), nil
	}}
	r := Execute(context.Background(), page, "evaluate", map[string]any{"js": "document.body.innerText"}, &Context{EvaluateEnabled: true})
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("evaluate failed: %v", r["error"])
	}
	content := r["extracted_content"].(string)
	if !strings.HasSuffix(content, "... [truncated]") {
		t.Error("long result not truncated")
	}
	if len(content) > 50100 {
		t.Errorf("content length = %d", len(content))
	}
}

func TestDoneEchoesParams(t *testing.T) {
	page := &fakePage{}
	r := Execute(context.Background(), page, "done", map[string]any{"success": false, "result": "gave up"}, &Context{})
	if ok, _ := r["success"].(bool); ok {
		t.Error("done should honor success=false")
	}
	if r["extracted_content"] != "gave up" {
		t.Errorf("content = %v", r["extracted_content"])
	}
}

func TestFindElementsRequiresCriterion(t *testing.T) {
	page := &fakePage{}
	r := Execute(context.Background(), page, "find_elements", nil, &Context{RefMap: snapshot.RefMap{"@e1": {Role: "button", Name: "Go"}}})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("expected failure without criteria")
	}
}

func TestFindElementsFilters(t *testing.T) {
	refMap := snapshot.RefMap{
		"@e1": {Role: "button", Name: "Submit order"},
		"@e2": {Role: "link", Name: "Order history"},
		"@e3": {Role: "button", Name: "Cancel"},
	}
	page := &fakePage{}
	r := Execute(context.Background(), page, "find_elements", map[string]any{"role": "button", "text": "order"}, &Context{RefMap: refMap})
	if r["match_count"] != 1 {
		t.Fatalf("match_count = %v", r["match_count"])
	}
	if !strings.Contains(r["extracted_content"].(string), "@e1") {
		t.Errorf("listing = %v", r["extracted_content"])
	}
}

func TestSearchPage(t *testing.T) {
	page := &fakePage{visible: "Welcome\nYour order #123 shipped\nFooter\norder again soon"}
	r := Execute(context.Background(), page, "search_page", map[string]any{"query": "ORDER"}, &Context{})
	if r["match_count"] != 2 {
		t.Fatalf("match_count = %v (%v)", r["match_count"], r["extracted_content"])
	}
}

func TestExtractTruncatesAtBoundary(t *testing.T) {
	para := strings.Repeat("Some sentence here. ", 40)
	page := &fakePage{visible: para + "\n\n" + para + "\n\n" + para}
	r := Execute(context.Background(), page, "extract", map[string]any{"max_chars": 1000}, &Context{})
	content := r["extracted_content"].(string)
	if !strings.HasSuffix(content, "... [truncated]") {
		t.Error("expected truncation marker")
	}
	body := strings.TrimSuffix(content, "\n... [truncated]")
	if !strings.HasSuffix(body, ".") {
		t.Errorf("cut not at sentence boundary: ...%q", body[len(body)-20:])
	}
}

func TestUploadFileMissingPath(t *testing.T) {
	page := &fakePage{}
	ac := &Context{RefMap: snapshot.RefMap{"@e1": {Role: "button", Name: "Upload"}}}
	r := Execute(context.Background(), page, "upload_file", map[string]any{"ref": "@e1", "path": "/no/such/file.pdf"}, ac)
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("expected failure for missing file")
	}
	if !strings.Contains(r["error"].(string), "File not found") {
		t.Errorf("error = %v", r["error"])
	}
}

func TestDispatcherSessionNotFound(t *testing.T) {
	d, _, _ := newTestSession(t, DispatcherOptions{})
	r := d.Execute(context.Background(), "nosuchsessid", "wait", map[string]any{"ms": 1})
	if r["code"] != "SESSION_NOT_FOUND" {
		t.Errorf("code = %v", r["code"])
	}
}

func TestDispatcherRateLimits(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{
		Limiter: ratelimit.New(map[string]int{"default": 1}),
	})
	page.url = "https://example.com/"

	r := d.Execute(context.Background(), s.ID, "scroll", map[string]any{"amount": 100})
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("first scroll failed: %v", r["error"])
	}
	r = d.Execute(context.Background(), s.ID, "scroll", map[string]any{"amount": 100})
	if r["code"] != "RATE_LIMITED" {
		t.Fatalf("second scroll should be limited, got %v", r)
	}
	if _, ok := r["wait_seconds"]; !ok {
		t.Error("wait_seconds missing from rate-limit result")
	}

	// Exempt verbs still run while limited.
	r = d.Execute(context.Background(), s.ID, "wait", map[string]any{"ms": 1})
	if ok, _ := r["success"].(bool); !ok {
		t.Errorf("exempt verb was limited: %v", r["error"])
	}
}

func TestScrollPageAmountUsesViewport(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{})
	s.Viewport = &session.Viewport{Width: 1280, Height: 614}

	r := d.Execute(context.Background(), s.ID, "scroll", map[string]any{"amount": "page"})
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("scroll failed: %v", r["error"])
	}
	if page.scrolled != 614 {
		t.Errorf("scroll amount = %d, want viewport height 614", page.scrolled)
	}
}

func TestDispatcherLoopWarning(t *testing.T) {
	d, s, _ := newTestSession(t, DispatcherOptions{})

	var r map[string]any
	for i := 0; i < 3; i++ {
		r = d.Execute(context.Background(), s.ID, "scroll", map[string]any{"amount": 100})
	}
	warning, _ := r["loop_warning"].(string)
	if !strings.Contains(warning, "repeated 3 times") {
		t.Errorf("loop_warning = %q", warning)
	}
}

func TestDispatcherSnapshotPersistsRefMap(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{})
	page.url = "https://example.com/"
	page.title = "Example"
	page.aria = "- button \"Submit\"\n- link \"Home\":\n  - /url: /home"

	r := d.Execute(context.Background(), s.ID, "snapshot", nil)
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("snapshot failed: %v", r["error"])
	}
	if len(s.RefMap()) == 0 {
		t.Fatal("ref map not persisted on session")
	}
	tree := r["tree"].(string)
	if !strings.Contains(tree, "Page: https://example.com/") {
		t.Errorf("header missing from tree:\n%s", tree)
	}
	if !strings.Contains(tree, "@e1") {
		t.Errorf("refs missing from tree:\n%s", tree)
	}
}

func TestDispatcherEmptyTreeFails(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{})
	page.aria = "   "
	r := d.Execute(context.Background(), s.ID, "snapshot", nil)
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("empty tree should fail")
	}
	if !strings.Contains(r["error"].(string), "still be loading") {
		t.Errorf("error = %v", r["error"])
	}
}

func TestBatchLimitAndStopOnError(t *testing.T) {
	d, s, _ := newTestSession(t, DispatcherOptions{})

	over := make([]BatchStep, MaxBatchSize+1)
	for i := range over {
		over[i] = BatchStep{Action: "wait", Params: map[string]any{"ms": 1}}
	}
	r := d.ExecuteBatch(context.Background(), s.ID, over, true)
	if !strings.Contains(r["error"].(string), "limited to 20") {
		t.Fatalf("oversize batch error = %v", r["error"])
	}

	steps := []BatchStep{
		{Action: "wait", Params: map[string]any{"ms": 1}},
		{Action: "navigate"}, // missing url
		{Action: "wait", Params: map[string]any{"ms": 1}},
	}
	r = d.ExecuteBatch(context.Background(), s.ID, steps, true)
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("batch with a failing step should fail")
	}
	if r["stopped_at"] != 1 {
		t.Errorf("stopped_at = %v", r["stopped_at"])
	}
	results := r["results"].([]map[string]any)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2 (stopped early)", len(results))
	}

	r = d.ExecuteBatch(context.Background(), s.ID, steps, false)
	results = r["results"].([]map[string]any)
	if len(results) != 3 {
		t.Errorf("without stop_on_error results = %d, want 3", len(results))
	}
}

func TestWebMCPDiscoverStoresTools(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{WebMCPEnabled: true})
	page.evalFunc = func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "__webmcp") {
			return json.RawMessage(`{"available":true,"tools":{"add_to_cart":{"name":"add_to_cart","description":"Add an item","inputSchema":{"type":"object"},"type":"imperative"}}}`), nil
		}
		return json.RawMessage(`null`), nil
	}

	r := d.Execute(context.Background(), s.ID, "webmcp_discover", nil)
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("discover failed: %v", r["error"])
	}
	if _, ok := s.WebMCPTools["add_to_cart"]; !ok {
		t.Error("tool not stored on session")
	}
	if s.WebMCPAvailable == nil || !*s.WebMCPAvailable {
		t.Error("availability not recorded")
	}
}

func TestWebMCPCallUnknownTool(t *testing.T) {
	d, s, _ := newTestSession(t, DispatcherOptions{WebMCPEnabled: true})
	r := d.Execute(context.Background(), s.ID, "webmcp_call", map[string]any{"tool": "ghost"})
	if ok, _ := r["success"].(bool); ok {
		t.Fatal("unknown tool should fail")
	}
	if !strings.Contains(r["error"].(string), "webmcp_discover") {
		t.Errorf("error = %v", r["error"])
	}
}

func TestDispatcherSensitiveIntensityFloor(t *testing.T) {
	d, s, page := newTestSession(t, DispatcherOptions{})
	s.Humanize = true
	s.HumanizeIntensity = 1.0
	page.url = "https://www.linkedin.com/feed"

	// The type handler sees the boosted intensity through the context; we
	// verify indirectly via the click settle path staying humanized.
	r := d.Execute(context.Background(), s.ID, "scroll", map[string]any{"amount": 50})
	if ok, _ := r["success"].(bool); !ok {
		t.Fatalf("scroll failed: %v", r["error"])
	}
	if !isSensitive("www.linkedin.com") {
		t.Error("linkedin should be sensitive")
	}
	if isSensitive("example.org") {
		t.Error("example.org should not be sensitive")
	}
}
