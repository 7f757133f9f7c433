package browser

import (
	"context"
	"encoding/json"
	neturl "net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/joestump/browserd/internal/detect"
	"github.com/joestump/browserd/internal/session"
)

// handle owns one launched browser process and its tabs.
type handle struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	router   *rod.HijackRouter
	pid      int

	tier *Tier
	opts session.LaunchOptions

	mu    sync.Mutex
	pages []*page

	eventsCancel context.CancelFunc
}

func newHandle(browser *rod.Browser, l *launcher.Launcher, tier *Tier, opts session.LaunchOptions) (*handle, error) {
	h := &handle{
		browser:  browser,
		launcher: l,
		tier:     tier,
		opts:     opts,
	}
	if info, err := (proto.SystemInfoGetProcessInfo{}).Call(browser); err == nil {
		for _, p := range info.ProcessInfo {
			if p.Type == "browser" {
				h.pid = p.ID
				break
			}
		}
	}
	if opts.DownloadDir != "" {
		h.watchDownloads()
	}
	if tier.number >= 2 {
		h.blockTrackers()
	}
	return h, nil
}

// watchDownloads routes downloads to the session directory and reports
// completed files. AllowAndName saves each download under its GUID.
func (h *handle) watchDownloads() {
	err := proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  h.opts.DownloadDir,
		EventsEnabled: true,
	}.Call(h.browser)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.eventsCancel = cancel

	type pending struct {
		url      string
		filename string
	}
	inflight := make(map[string]pending)
	var mu sync.Mutex

	go h.browser.Context(ctx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			mu.Lock()
			inflight[e.GUID] = pending{url: e.URL, filename: e.SuggestedFilename}
			mu.Unlock()
		},
		func(e *proto.BrowserDownloadProgress) {
			if e.State != proto.BrowserDownloadProgressStateCompleted {
				return
			}
			mu.Lock()
			p, ok := inflight[e.GUID]
			delete(inflight, e.GUID)
			mu.Unlock()
			if !ok || h.opts.OnDownload == nil {
				return
			}
			h.opts.OnDownload(session.Download{
				Filename: p.filename,
				Path:     filepath.Join(h.opts.DownloadDir, e.GUID),
				URL:      p.url,
				Size:     int64(e.TotalBytes),
			})
		},
	)()
}

// blockTrackers aborts analytics and fingerprinting requests on stealth
// tiers.
func (h *handle) blockTrackers() {
	router := h.browser.HijackRequests()
	for _, pattern := range detect.TrackerPatterns {
		_ = router.Add(pattern, "", func(hj *rod.Hijack) {
			hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
	}
	h.router = router
	go router.Run()
}

func (h *handle) Pages() []session.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.Page, len(h.pages))
	for i, p := range h.pages {
		out[i] = p
	}
	return out
}

func (h *handle) NewPage(ctx context.Context, url string) (session.Page, error) {
	p, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	if h.tier.number >= 2 {
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	if h.tier.cfg.WebMCP {
		if _, err := p.EvalOnNewDocument(detect.WebMCPInitScript); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	if vp := h.opts.Viewport; vp != nil {
		err := proto.EmulationSetDeviceMetricsOverride{
			Width:             vp.Width,
			Height:            vp.Height,
			DeviceScaleFactor: 1,
		}.Call(p)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	pg := newPage(p)
	pg.onClosed = h.dropPage
	pg.publicShot = func(ctx context.Context, url string, fullPage bool) ([]byte, error) {
		return capturePublic(ctx, h.tier.cfg, url, fullPage)
	}
	h.handleDialogs(pg)

	h.mu.Lock()
	h.pages = append(h.pages, pg)
	h.mu.Unlock()

	if url != "" && url != "about:blank" {
		h.applyFingerprint(p, url)
		if err := pg.Navigate(ctx, url); err != nil {
			return pg, err
		}
	}
	return pg, nil
}

// applyFingerprint pins the page to the domain's persistent identity on
// stealth tiers, so repeat visits present the same browser.
func (h *handle) applyFingerprint(p *rod.Page, rawURL string) {
	fps := h.tier.cfg.Fingerprints
	if fps == nil || h.tier.number < 2 {
		return
	}
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Host == "" {
		return
	}
	fp, err := fps.GetOrCreateFingerprint(u.Host, h.tier.cfg.Geo)
	if err != nil {
		return
	}
	_ = proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
		Platform:       fp.Platform,
	}.Call(p)
	_ = fps.RecordFingerprintUsage(fp.ID, true)
}

// handleDialogs auto-accepts alerts and beforeunload prompts and dismisses
// confirm/prompt dialogs, which would otherwise hang the CDP session.
func (h *handle) handleDialogs(pg *page) {
	ctx, cancel := context.WithCancel(context.Background())
	pg.stopDlg = cancel
	evPage := pg.p.Context(ctx)
	go evPage.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		accept := e.Type == proto.PageDialogTypeAlert || e.Type == proto.PageDialogTypeBeforeunload
		_ = proto.PageHandleJavaScriptDialog{Accept: accept}.Call(evPage)
		if h.opts.OnDialog != nil {
			action := "dismissed"
			if accept {
				action = "accepted"
			}
			h.opts.OnDialog(session.DismissedDialog{
				Type:    string(e.Type),
				Message: e.Message,
				Action:  action,
			})
		}
	})()
}

func (h *handle) dropPage(pg *page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.pages {
		if p == pg {
			h.pages = append(h.pages[:i], h.pages[i+1:]...)
			return
		}
	}
}

func (h *handle) Cookies(ctx context.Context, domain string) (json.RawMessage, error) {
	cookies, err := h.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	if domain != "" {
		filtered := cookies[:0]
		for _, c := range cookies {
			if strings.Contains(c.Domain, domain) {
				filtered = append(filtered, c)
			}
		}
		cookies = filtered
	}
	return json.Marshal(cookies)
}

func (h *handle) SetCookies(ctx context.Context, cookies json.RawMessage) error {
	var params []*proto.NetworkCookieParam
	if err := json.Unmarshal(cookies, &params); err != nil {
		return err
	}
	return h.browser.Context(ctx).SetCookies(params)
}

func (h *handle) StorageState(ctx context.Context) (json.RawMessage, error) {
	cookies, err := h.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	var origins []json.RawMessage
	for _, pg := range h.Pages() {
		raw, err := pg.Eval(ctx, storageStateJS)
		if err != nil {
			continue
		}
		origins = append(origins, raw)
	}
	return json.Marshal(map[string]any{
		"cookies": cookies,
		"origins": origins,
	})
}

func (h *handle) PID() int {
	return h.pid
}

func (h *handle) Close(ctx context.Context) error {
	if h.eventsCancel != nil {
		h.eventsCancel()
	}
	if h.router != nil {
		_ = h.router.Stop()
	}
	h.mu.Lock()
	pages := h.pages
	h.pages = nil
	h.mu.Unlock()
	for _, pg := range pages {
		pg.mu.Lock()
		if stop := pg.stopDlg; stop != nil {
			stop()
			pg.stopDlg = nil
		}
		pg.mu.Unlock()
	}
	err := h.browser.Close()
	if h.launcher != nil {
		h.launcher.Kill()
		h.launcher.Cleanup()
	}
	return err
}
