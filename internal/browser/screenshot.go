package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/joestump/browserd/internal/session"
)

// capture timeouts per chain stage.
const (
	nativeShotTimeout = 15 * time.Second
	cdpShotTimeout    = 10 * time.Second
)

// shotStage is one attempt in the screenshot fallback chain.
type shotStage struct {
	name    string
	timeout time.Duration
	capture func(ctx context.Context) ([]byte, error)
}

// captureChain runs stages in order and returns the first capture that
// succeeds. When every stage fails the error reports each attempt so the
// caller sees where the chain broke.
func captureChain(ctx context.Context, stages []shotStage) ([]byte, error) {
	var failures []string
	for _, st := range stages {
		sctx := ctx
		cancel := func() {}
		if st.timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, st.timeout)
		}
		data, err := st.capture(sctx)
		cancel()
		if err == nil {
			return data, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", st.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("screenshot failed at every stage: %s", strings.Join(failures, "; "))
}

// capturePublic launches a throwaway baseline browser with no session
// state, navigates to the public URL, and captures it. Last resort when
// the session's own renderer cannot produce an image.
func capturePublic(ctx context.Context, cfg Config, url string, fullPage bool) ([]byte, error) {
	if url == "" || url == "about:blank" {
		return nil, fmt.Errorf("no public URL to capture")
	}
	t := &Tier{number: 1, name: "baseline", cfg: cfg}
	l := t.newLauncher(session.LaunchOptions{})
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch fallback browser: %w", err)
	}
	defer func() {
		l.Kill()
		l.Cleanup()
	}()

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect fallback browser: %w", err)
	}
	defer func() { _ = b.Close() }()

	p, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, err
	}
	_ = p.Context(ctx).WaitDOMStable(300*time.Millisecond, 0.1)
	return p.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}
