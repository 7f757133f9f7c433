// Package session holds the registry of live browser sessions and the
// contracts the browser backends implement. Sessions are heavyweight,
// process-backed resources: every mutating operation runs under the
// session mutex, idle sessions are reaped by a background sweeper, and
// teardown failures keep the session registered so close can be retried.
package session

import (
	"context"
	"encoding/json"
	"time"
)

// Locator addresses one page element. Refs resolved from a snapshot carry
// either a role/name pair (accessibility lookup) or a CSS selector for
// cursor-interactive elements.
type Locator struct {
	Role   string
	Name   string
	Nth    int
	HasNth bool
	CSS    string
}

// Page is the per-tab surface the dispatcher drives. Implementations wrap
// one browser page; all calls honor the context deadline.
type Page interface {
	URL() string
	Title(ctx context.Context) (string, error)

	Navigate(ctx context.Context, url string) error
	// Back returns false when there is no history entry to go back to.
	Back(ctx context.Context) (bool, error)

	// AriaTree returns the accessibility tree in indented bullet form.
	AriaTree(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	// EvalInFrame targets the first frame whose URL contains frameURL.
	EvalInFrame(ctx context.Context, frameURL, js string, args ...any) (json.RawMessage, error)
	FrameURLs(ctx context.Context) []string

	Click(ctx context.Context, loc Locator, humanize bool, intensity float64) error
	ClickXY(ctx context.Context, x, y float64, humanize bool, intensity float64) error
	Fill(ctx context.Context, loc Locator, value string) error
	TypeText(ctx context.Context, loc Locator, text string, delay time.Duration, humanize bool, intensity float64) error
	Press(ctx context.Context, key string, loc *Locator) error
	Select(ctx context.Context, loc Locator, value string) error
	Scroll(ctx context.Context, direction string, amount int, humanize bool, intensity float64) error

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	// SetFiles resolves the nearest file input (the element itself, a
	// descendant, or an ancestor within three levels) and attaches path.
	SetFiles(ctx context.Context, loc Locator, path string) error
	VisibleText(ctx context.Context, maxChars int) (string, error)

	Close(ctx context.Context) error
}

// BrowserHandle owns one launched browser and its tabs.
type BrowserHandle interface {
	Pages() []Page
	NewPage(ctx context.Context, url string) (Page, error)

	Cookies(ctx context.Context, domain string) (json.RawMessage, error)
	SetCookies(ctx context.Context, cookies json.RawMessage) error
	// StorageState exports cookies plus localStorage for profile saving.
	StorageState(ctx context.Context) (json.RawMessage, error)

	PID() int
	// Close tears down the browser process. Best-effort: individual
	// resource errors are swallowed, only total failure is reported.
	Close(ctx context.Context) error
}

// Viewport is the page dimensions requested at launch.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Download records a file auto-saved during the session.
type Download struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// DismissedDialog records an auto-handled alert/confirm/prompt.
type DismissedDialog struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// WebMCPTool is a page-advertised tool discovered via webmcp_discover.
type WebMCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Type        string          `json:"type"`
}

// LaunchOptions carries everything a tier needs to bring up a browser.
type LaunchOptions struct {
	ProfileDir  string
	Viewport    *Viewport
	DownloadDir string

	// Event sinks, registered on the context before any page loads.
	OnDialog   func(DismissedDialog)
	OnDownload func(Download)
}

// Tier launches browsers at one stealth level.
type Tier interface {
	Number() int
	Name() string
	// Detect reports whether this tier's backend is usable on this host.
	// Advisory only; it never installs anything.
	Detect() bool
	Init(ctx context.Context, opts LaunchOptions) (BrowserHandle, error)
}
