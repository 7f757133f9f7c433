// Package browser implements the rod-backed session tiers. Tier 1 is a
// plain headless launch, tier 2 adds stealth patches and tracker blocking,
// tier 3 adds the hardened flag set and per-domain fingerprint overrides.
package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/store"
)

// Config carries host-level browser settings shared by all tiers.
type Config struct {
	Headless   bool
	BrowserBin string

	ProxyServer   string
	ProxyUser     string
	ProxyPassword string

	// Geo selects the fingerprint locale for new domains.
	Geo    string
	WebMCP bool

	// Fingerprints, when set, enables persistent per-domain identities on
	// stealth tiers.
	Fingerprints *store.Store
}

// Tier launches browsers at one stealth level.
type Tier struct {
	number int
	name   string
	cfg    Config
}

// NewTiers returns the three escalation tiers sharing one config.
func NewTiers(cfg Config) []session.Tier {
	return []session.Tier{
		&Tier{number: 1, name: "baseline", cfg: cfg},
		&Tier{number: 2, name: "stealth", cfg: cfg},
		&Tier{number: 3, name: "hardened", cfg: cfg},
	}
}

func (t *Tier) Number() int { return t.number }
func (t *Tier) Name() string { return t.name }

// Detect reports whether a Chromium binary is available to launch.
func (t *Tier) Detect() bool {
	if t.cfg.BrowserBin != "" {
		return true
	}
	_, has := launcher.LookPath()
	return has
}

// Init launches a browser process and connects over CDP.
func (t *Tier) Init(ctx context.Context, opts session.LaunchOptions) (session.BrowserHandle, error) {
	l := t.newLauncher(opts)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if t.cfg.ProxyServer != "" && t.cfg.ProxyUser != "" {
		go browser.HandleAuth(t.cfg.ProxyUser, t.cfg.ProxyPassword)()
	}
	return newHandle(browser, l, t, opts)
}

// newLauncher assembles the flag set for this tier. Higher tiers strip
// more automation tells at the cost of launch weight.
func (t *Tier) newLauncher(opts session.LaunchOptions) *launcher.Launcher {
	l := launcher.New().
		Headless(t.cfg.Headless).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars")
	if t.cfg.BrowserBin != "" {
		l = l.Bin(t.cfg.BrowserBin)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	if t.cfg.ProxyServer != "" {
		l = l.Proxy(t.cfg.ProxyServer)
	}
	if t.number >= 2 {
		l = l.
			Set("disable-blink-features", "AutomationControlled").
			Delete("enable-automation")
		if vp := opts.Viewport; vp != nil {
			l = l.Set("window-size", fmt.Sprintf("%d,%d", vp.Width, vp.Height))
		}
	}
	if t.number >= 3 {
		l = l.
			Set("disable-dev-shm-usage").
			Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp").
			Set("use-gl", "swiftshader").
			Set("disable-features", "IsolateOrigins,site-per-process")
	}
	return l
}
