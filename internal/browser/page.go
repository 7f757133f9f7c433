package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/joestump/browserd/internal/behavior"
	"github.com/joestump/browserd/internal/session"
)

// mouse movement tuning for humanized input.
const (
	mousePathSteps  = 25
	mouseCurvature  = 0.15
	mouseStepDelay  = 8 * time.Millisecond
	scrollStepCount = 6
)

// page wraps one rod page. All exported methods rebind the page to the
// caller's context so deadlines propagate into CDP calls.
type page struct {
	p *rod.Page

	mu       sync.Mutex
	lastURL  string
	lastX    float64
	lastY    float64
	stopDlg  func()
	onClosed func(*page)

	// publicShot is the last screenshot fallback: a fresh browser with no
	// session state pointed at the public URL. Wired by the handle.
	publicShot func(ctx context.Context, url string, fullPage bool) ([]byte, error)
}

func newPage(p *rod.Page) *page {
	return &page{p: p, lastX: 100, lastY: 100}
}

func (pg *page) rod(ctx context.Context) *rod.Page {
	return pg.p.Context(ctx)
}

func (pg *page) URL() string {
	info, err := pg.p.Info()
	if err != nil {
		pg.mu.Lock()
		defer pg.mu.Unlock()
		return pg.lastURL
	}
	pg.mu.Lock()
	pg.lastURL = info.URL
	pg.mu.Unlock()
	return info.URL
}

func (pg *page) Title(ctx context.Context) (string, error) {
	info, err := pg.rod(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (pg *page) Navigate(ctx context.Context, url string) error {
	p := pg.rod(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	// Best effort; SPAs may never settle.
	_ = p.WaitDOMStable(300*time.Millisecond, 0.1)
	pg.mu.Lock()
	pg.lastURL = url
	pg.mu.Unlock()
	return nil
}

func (pg *page) Back(ctx context.Context) (bool, error) {
	p := pg.rod(ctx)
	history, err := proto.PageGetNavigationHistory{}.Call(p)
	if err != nil {
		return false, err
	}
	if history.CurrentIndex <= 0 {
		return false, nil
	}
	entry := history.Entries[history.CurrentIndex-1]
	if err := (proto.PageNavigateToHistoryEntry{EntryID: entry.ID}).Call(p); err != nil {
		return false, err
	}
	_ = p.WaitDOMStable(300*time.Millisecond, 0.1)
	return true, nil
}

func (pg *page) AriaTree(ctx context.Context) (string, error) {
	raw, err := pg.Eval(ctx, ariaTreeJS)
	if err != nil {
		return "", err
	}
	var tree string
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", err
	}
	return tree, nil
}

func (pg *page) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	obj, err := pg.rod(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj.Value)
}

func (pg *page) EvalInFrame(ctx context.Context, frameURL, js string, args ...any) (json.RawMessage, error) {
	p := pg.rod(ctx)
	iframes, err := p.Elements("iframe")
	if err != nil {
		return nil, err
	}
	for _, el := range iframes {
		src, err := el.Attribute("src")
		if err != nil || src == nil {
			continue
		}
		if !strings.Contains(*src, frameURL) {
			continue
		}
		frame, err := el.Frame()
		if err != nil {
			return nil, err
		}
		obj, err := frame.Context(ctx).Eval(js, args...)
		if err != nil {
			return nil, err
		}
		return json.Marshal(obj.Value)
	}
	return nil, fmt.Errorf("no frame matching %q", frameURL)
}

func (pg *page) FrameURLs(ctx context.Context) []string {
	raw, err := pg.Eval(ctx, frameURLsJS)
	if err != nil {
		return nil
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return nil
	}
	return urls
}

// element resolves a locator to a rod element. CSS selectors go straight
// to querySelector; role/name pairs go through the shared accessibility
// matcher so snapshot refs and live lookup agree.
func (pg *page) element(ctx context.Context, loc session.Locator) (*rod.Element, error) {
	p := pg.rod(ctx)
	if loc.CSS != "" {
		el, err := p.Element(loc.CSS)
		if err != nil {
			return nil, fmt.Errorf("element %s not found", loc.CSS)
		}
		return el, nil
	}
	nth := 0
	if loc.HasNth {
		nth = loc.Nth
	}
	el, err := p.ElementByJS(rod.Eval(locatorJS, loc.Role, loc.Name, nth))
	if err != nil {
		return nil, fmt.Errorf("element %s %q not found", loc.Role, loc.Name)
	}
	return el, nil
}

func (pg *page) Click(ctx context.Context, loc session.Locator, humanize bool, intensity float64) error {
	el, err := pg.element(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err == nil && humanize {
		time.Sleep(behavior.SettleDelay(true, intensity) / 2)
	}
	if !humanize {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	shape, err := el.Shape()
	if err != nil {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	target := shape.OnePointInside()
	if target == nil {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	return pg.humanClick(ctx, target.X, target.Y, intensity)
}

func (pg *page) ClickXY(ctx context.Context, x, y float64, humanize bool, intensity float64) error {
	if !humanize {
		p := pg.rod(ctx)
		if err := p.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
			return err
		}
		return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
	}
	return pg.humanClick(ctx, x, y, intensity)
}

// humanClick moves the mouse along a curved path with eased pacing before
// pressing the button.
func (pg *page) humanClick(ctx context.Context, x, y, intensity float64) error {
	p := pg.rod(ctx)
	pg.mu.Lock()
	start := behavior.Point{X: pg.lastX, Y: pg.lastY}
	pg.mu.Unlock()

	path := behavior.MousePath(start, behavior.Point{X: x, Y: y}, mousePathSteps, mouseCurvature)
	delays := behavior.MovementDelays(len(path), time.Duration(float64(mouseStepDelay)*intensity))
	for i, pt := range path {
		if err := p.Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y}); err != nil {
			return err
		}
		if i < len(delays) {
			time.Sleep(delays[i])
		}
	}
	pg.mu.Lock()
	pg.lastX, pg.lastY = x, y
	pg.mu.Unlock()
	return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (pg *page) Fill(ctx context.Context, loc session.Locator, value string) error {
	el, err := pg.element(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	return el.Input(value)
}

func (pg *page) TypeText(ctx context.Context, loc session.Locator, text string, delay time.Duration, humanize bool, intensity float64) error {
	el, err := pg.element(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return err
	}
	p := pg.rod(ctx)
	if !humanize {
		for _, ch := range text {
			if err := p.InsertText(string(ch)); err != nil {
				return err
			}
			time.Sleep(delay)
		}
		return nil
	}
	for _, ks := range behavior.Keystrokes(text, intensity) {
		time.Sleep(ks.Delay)
		if ks.Typo {
			if err := p.InsertText(string(ks.WrongChar)); err != nil {
				return err
			}
			time.Sleep(behavior.KeyDelay(ks.Char, ks.WrongChar, intensity))
			if err := p.Keyboard.Type(input.Backspace); err != nil {
				return err
			}
		}
		if err := p.InsertText(string(ks.Char)); err != nil {
			return err
		}
	}
	return nil
}

// namedKeys maps the key names the agent uses to CDP key codes.
var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Key(' '),
}

var modifierKeys = map[string]input.Key{
	"control": input.ControlLeft,
	"ctrl":    input.ControlLeft,
	"shift":   input.ShiftLeft,
	"alt":     input.AltLeft,
	"meta":    input.MetaLeft,
	"cmd":     input.MetaLeft,
}

// resolveKey parses a key spec like "Enter" or "Control+a" into held
// modifiers plus the final key.
func resolveKey(spec string) ([]input.Key, input.Key, error) {
	parts := strings.Split(spec, "+")
	var mods []input.Key
	for _, part := range parts[:len(parts)-1] {
		mod, ok := modifierKeys[strings.ToLower(part)]
		if !ok {
			return nil, 0, fmt.Errorf("unknown modifier %q", part)
		}
		mods = append(mods, mod)
	}
	last := parts[len(parts)-1]
	if key, ok := namedKeys[strings.ToLower(last)]; ok {
		return mods, key, nil
	}
	runes := []rune(last)
	if len(runes) != 1 {
		return nil, 0, fmt.Errorf("unknown key %q", last)
	}
	return mods, input.Key(runes[0]), nil
}

func (pg *page) Press(ctx context.Context, key string, loc *session.Locator) error {
	if loc != nil {
		el, err := pg.element(ctx, *loc)
		if err != nil {
			return err
		}
		if err := el.Focus(); err != nil {
			return err
		}
	}
	mods, final, err := resolveKey(key)
	if err != nil {
		return err
	}
	p := pg.rod(ctx)
	for _, mod := range mods {
		if err := p.Keyboard.Press(mod); err != nil {
			return err
		}
	}
	if err := p.Keyboard.Type(final); err != nil {
		return err
	}
	for i := len(mods) - 1; i >= 0; i-- {
		if err := p.Keyboard.Release(mods[i]); err != nil {
			return err
		}
	}
	return nil
}

func (pg *page) Select(ctx context.Context, loc session.Locator, value string) error {
	el, err := pg.element(ctx, loc)
	if err != nil {
		return err
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func (pg *page) Scroll(ctx context.Context, direction string, amount int, humanize bool, intensity float64) error {
	dx, dy := 0.0, 0.0
	switch direction {
	case "up":
		dy = -float64(amount)
	case "left":
		dx = -float64(amount)
	case "right":
		dx = float64(amount)
	default:
		dy = float64(amount)
	}
	p := pg.rod(ctx)
	if !humanize {
		return p.Mouse.Scroll(dx, dy, 1)
	}
	speeds := behavior.ScrollSpeeds(scrollStepCount)
	total := 0.0
	for _, s := range speeds {
		total += s
	}
	for _, s := range speeds {
		frac := s / total
		if err := p.Mouse.Scroll(dx*frac, dy*frac, 1); err != nil {
			return err
		}
		time.Sleep(time.Duration(float64(30*time.Millisecond) * intensity))
	}
	return nil
}

// Screenshot walks the capture chain: the renderer's native capture, then
// a direct CDP capture tuned for speed, then a throwaway browser pointed
// at the public URL.
func (pg *page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	stages := []shotStage{
		{"native", nativeShotTimeout, func(c context.Context) ([]byte, error) {
			return pg.nativeShot(c, fullPage)
		}},
		{"cdp", cdpShotTimeout, func(c context.Context) ([]byte, error) {
			return pg.cdpShot(c, fullPage)
		}},
	}
	if pg.publicShot != nil {
		url := pg.URL()
		stages = append(stages, shotStage{"fallback", 0, func(c context.Context) ([]byte, error) {
			return pg.publicShot(c, url, fullPage)
		}})
	}
	return captureChain(ctx, stages)
}

func (pg *page) nativeShot(ctx context.Context, fullPage bool) ([]byte, error) {
	p := pg.rod(ctx)
	data, err := p.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err == nil {
		return data, nil
	}
	// PNG capture can fail on very tall pages; fall back to JPEG.
	return p.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: intPtr(80),
	})
}

// cdpShot asks the protocol directly, trading fidelity for speed.
func (pg *page) cdpShot(ctx context.Context, fullPage bool) ([]byte, error) {
	res, err := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		OptimizeForSpeed:      true,
		CaptureBeyondViewport: fullPage,
	}.Call(pg.rod(ctx))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (pg *page) SetFiles(ctx context.Context, loc session.Locator, path string) error {
	p := pg.rod(ctx)
	nth := 0
	if loc.HasNth {
		nth = loc.Nth
	}
	raw, err := pg.Eval(ctx, fileInputMarkJS, loc.Role, loc.Name, nth, loc.CSS)
	if err != nil {
		return err
	}
	var status string
	_ = json.Unmarshal(raw, &status)
	defer func() { _, _ = p.Eval(fileInputClearJS) }()
	switch status {
	case "ok":
	case "not_found":
		return fmt.Errorf("element for upload not found")
	case "ambiguous":
		return fmt.Errorf("multiple file inputs on page; use a ref closer to the intended input")
	default:
		return fmt.Errorf("no file input near the element")
	}
	el, err := p.Element(`[data-upload-target]`)
	if err != nil {
		return err
	}
	return el.SetFiles([]string{path})
}

func (pg *page) VisibleText(ctx context.Context, maxChars int) (string, error) {
	raw, err := pg.Eval(ctx, visibleTextJS, maxChars)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (pg *page) Close(ctx context.Context) error {
	pg.mu.Lock()
	stop := pg.stopDlg
	closed := pg.onClosed
	pg.stopDlg = nil
	pg.mu.Unlock()
	if stop != nil {
		stop()
	}
	if closed != nil {
		closed(pg)
	}
	return pg.p.Close()
}

func intPtr(v int) *int { return &v }
