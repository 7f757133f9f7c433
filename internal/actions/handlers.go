// Package actions implements the verb registry and the dispatch pipeline
// that wraps every verb with rate limiting, loop detection, and block
// detection.
package actions

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joestump/browserd/internal/behavior"
	"github.com/joestump/browserd/internal/session"
)

const (
	navigateTimeout  = 30 * time.Second
	clickTimeout     = 10 * time.Second
	humanizedTimeout = 15 * time.Second
	// The page walks a multi-stage capture chain with its own per-stage
	// budgets; this outer bound just has to cover the whole chain.
	screenshotTimeout = 60 * time.Second
)

// Handler executes one verb against the active page.
type Handler func(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any

var handlers = map[string]Handler{
	"navigate":    actionNavigate,
	"click":       actionClick,
	"fill":        actionFill,
	"type":        actionType,
	"scroll":      actionScroll,
	"snapshot":    actionSnapshot,
	"screenshot":  actionScreenshot,
	"wait":        actionWait,
	"evaluate":    actionEvaluate,
	"done":        actionDone,
	"press":       actionPress,
	"select":      actionSelect,
	"go_back":     actionGoBack,
	"cookies_get": actionCookiesGet,
	"cookies_set": actionCookiesSet,
	"tab_new":     actionTabNew,
	"tab_switch":  actionTabSwitch,
	"tab_close":   actionTabClose,

	"webmcp_discover":  actionWebMCPDiscover,
	"webmcp_call":      actionWebMCPCall,
	"search_page":      actionSearchPage,
	"find_elements":    actionFindElements,
	"extract":          actionExtract,
	"upload_file":      actionUploadFile,
	"get_downloads":    actionGetDownloads,
	"click_coordinate": actionClickCoordinate,
}

// Verbs returns the registered verb names, sorted.
func Verbs() []string {
	out := make([]string, 0, len(handlers))
	for v := range handlers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Execute runs a single verb without the dispatch pipeline. Most callers
// want Dispatcher.Execute instead.
func Execute(ctx context.Context, page session.Page, verb string, params map[string]any, ac *Context) map[string]any {
	h, ok := handlers[verb]
	if !ok {
		return failf("Unknown action: %s. Available: %s", verb, strings.Join(Verbs(), ", "))
	}
	return h(ctx, page, params, ac)
}

func actionNavigate(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	url := strParam(params, "url", "")
	if url == "" {
		return fail("Missing required param: url")
	}

	nctx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	if err := page.Navigate(nctx, url); err != nil {
		r := failErr(err)
		r["new_url"] = page.URL()
		return r
	}
	title, _ := page.Title(ctx)
	return map[string]any{
		"success":           true,
		"extracted_content": "Navigated to " + page.URL(),
		"page_changed":      true,
		"new_url":           page.URL(),
		"new_title":         title,
	}
}

func actionClick(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ref := strParam(params, "ref", "")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	loc, e := ResolveRef(ac.RefMap, ref)
	if e != nil {
		return failFrom(e)
	}

	oldURL := page.URL()
	oldTabs := len(ac.pages())

	timeout := clickTimeout
	if ac.Humanize {
		timeout = humanizedTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := page.Click(cctx, loc, ac.Humanize, ac.Intensity)
	cancel()
	if err != nil {
		// A click that triggers navigation can kill its own JS context.
		// If the URL moved, the click worked.
		if newURL := page.URL(); newURL != oldURL {
			title, _ := page.Title(ctx)
			return map[string]any{
				"success":           true,
				"extracted_content": fmt.Sprintf("Clicked %s, page navigated", ref),
				"page_changed":      true,
				"new_url":           newURL,
				"new_title":         title,
			}
		}
		return failErr(err)
	}

	time.Sleep(behavior.SettleDelay(ac.Humanize, ac.Intensity))
	newURL := page.URL()
	pages := ac.pages()

	result := map[string]any{
		"success":           true,
		"extracted_content": "Clicked " + ref,
		"page_changed":      newURL != oldURL,
	}
	if newURL != oldURL {
		title, _ := page.Title(ctx)
		result["new_url"] = newURL
		result["new_title"] = title
	}
	if len(pages) > oldTabs {
		last := pages[len(pages)-1]
		result["new_tab_opened"] = true
		result["new_tab_url"] = last.URL()
		result["extracted_content"] = fmt.Sprintf("Clicked %s, opened new tab: %s", ref, last.URL())
	}
	return result
}

func actionFill(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ref := strParam(params, "ref", "")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	loc, e := ResolveRef(ac.RefMap, ref)
	if e != nil {
		return failFrom(e)
	}
	value := strParam(params, "value", "")

	fctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	if err := page.Fill(fctx, loc, value); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Filled %s with value", ref),
	}
}

func actionType(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ref := strParam(params, "ref", "")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	loc, e := ResolveRef(ac.RefMap, ref)
	if e != nil {
		return failFrom(e)
	}
	text := strParam(params, "text", "")
	delay := time.Duration(intParam(params, "delay_ms", 50)) * time.Millisecond

	// Humanized typing is paced per character, so the bound scales with
	// text length.
	timeout := clickTimeout
	if ac.Humanize {
		timeout = humanizedTimeout
		if scaled := time.Duration(len(text)) * 200 * time.Millisecond; scaled > timeout {
			timeout = scaled
		}
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.TypeText(tctx, loc, text, delay, ac.Humanize, ac.Intensity); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Typed %d chars into %s", len(text), ref),
	}
}

func actionScroll(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	direction := strParam(params, "direction", "down")
	amount := intParam(params, "amount", 300)
	if v, ok := params["amount"].(string); ok && v == "page" {
		amount = 800
		if vp := ac.Session.Viewport; vp != nil && vp.Height > 0 {
			amount = vp.Height
		}
	}

	if err := page.Scroll(ctx, direction, amount, ac.Humanize, ac.Intensity); err != nil {
		return failErr(err)
	}
	if amount < 0 {
		amount = -amount
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Scrolled %s %dpx", direction, amount),
	}
}

func actionSnapshot(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	return takeSnapshot(ctx, page, params, ac)
}

func actionScreenshot(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	fullPage := boolParam(params, "full_page", false)

	sctx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()
	data, err := page.Screenshot(sctx, fullPage)
	if err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"screenshot":        base64.StdEncoding.EncodeToString(data),
		"extracted_content": fmt.Sprintf("Screenshot taken (%d bytes)", len(data)),
	}
}

func actionWait(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ms := intParam(params, "ms", 1000)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-ctx.Done():
		return failErr(ctx.Err())
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Waited %dms", ms),
	}
}

func actionEvaluate(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if !ac.EvaluateEnabled {
		return fail("evaluate action is disabled. Set BROWSERD_EVALUATE_ENABLED=1 to enable.")
	}
	js := strParam(params, "js", "")
	if js == "" {
		return fail("Missing required param: js")
	}
	frameURL := strParam(params, "frame_url", "")
	timeoutS := intParam(params, "timeout_s", 30)

	ectx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
	defer cancel()

	var raw json.RawMessage
	var err error
	if frameURL != "" {
		frames := page.FrameURLs(ctx)
		found := false
		for _, f := range frames {
			if strings.Contains(f, frameURL) {
				found = true
				break
			}
		}
		if !found {
			for i, f := range frames {
				if len(f) > 80 {
					frames[i] = f[:80]
				}
			}
			return failf("No frame matching %q found. Frames: %v", frameURL, frames)
		}
		raw, err = page.EvalInFrame(ectx, frameURL, js)
	} else {
		raw, err = page.Eval(ectx, js)
	}
	if err != nil {
		if ectx.Err() == context.DeadlineExceeded {
			return failf("evaluate timed out after %ds", timeoutS)
		}
		return failErr(err)
	}

	content := formatEvalResult(raw)
	if len(content) > 50000 {
		content = content[:50000] + "\n... [truncated]"
	}
	return map[string]any{
		"success":           true,
		"extracted_content": content,
	}
}

// formatEvalResult renders an evaluate result for the agent: scalars as
// bare text, everything else as indented JSON.
func formatEvalResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool, float64:
		return fmt.Sprintf("%v", val)
	default:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return string(raw)
		}
		return string(pretty)
	}
}

func actionDone(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	return map[string]any{
		"success":           boolParam(params, "success", true),
		"extracted_content": strParam(params, "result", "Task completed."),
	}
}

func actionPress(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	key := strParam(params, "key", "")
	if key == "" {
		return fail("Missing required param: key")
	}

	var loc *session.Locator
	if ref := strParam(params, "ref", ""); ref != "" {
		resolved, e := ResolveRef(ac.RefMap, ref)
		if e != nil {
			return failFrom(e)
		}
		loc = &resolved
	}

	pctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	if err := page.Press(pctx, key, loc); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": "Pressed " + key,
	}
}

func actionSelect(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ref := strParam(params, "ref", "")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	loc, e := ResolveRef(ac.RefMap, ref)
	if e != nil {
		return failFrom(e)
	}
	value := strParam(params, "value", "")

	sctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	if err := page.Select(sctx, loc, value); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Selected %q in %s", value, ref),
	}
}

func actionGoBack(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	bctx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	wentBack, err := page.Back(bctx)
	if err != nil {
		return failErr(err)
	}
	if !wentBack {
		return fail("No browser history to go back to.")
	}
	title, _ := page.Title(ctx)
	return map[string]any{
		"success":           true,
		"extracted_content": "Navigated back to " + page.URL(),
		"page_changed":      true,
		"new_url":           page.URL(),
		"new_title":         title,
	}
}

func actionCookiesGet(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	h := handleOf(ac)
	if h == nil {
		return fail("Session has no browser handle")
	}
	domain := strParam(params, "domain", "")
	raw, err := h.Cookies(ctx, domain)
	if err != nil {
		return failErr(err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return map[string]any{"success": true, "extracted_content": string(raw)}
	}
	return map[string]any{
		"success":           true,
		"extracted_content": pretty.String(),
	}
}

func actionCookiesSet(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	cookies, ok := params["cookies"].([]any)
	if !ok || len(cookies) == 0 {
		return fail("Missing required param: cookies")
	}
	h := handleOf(ac)
	if h == nil {
		return fail("Session has no browser handle")
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return failErr(err)
	}
	if err := h.SetCookies(ctx, raw); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Set %d cookie(s)", len(cookies)),
	}
}

func handleOf(ac *Context) session.BrowserHandle {
	if ac.Session == nil {
		return nil
	}
	return ac.Session.Handle()
}

func actionTabNew(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if ac.Manager == nil || ac.Session == nil {
		return fail("Failed to create new tab")
	}
	url := strParam(params, "url", "")
	newPage, err := ac.Manager.NewPage(ctx, ac.Session.ID, url)
	if err != nil {
		return failErr(err)
	}
	content := "New tab opened"
	if url != "" {
		content += " at " + url
	}
	return map[string]any{
		"success":           true,
		"extracted_content": content,
		"page_changed":      true,
		"new_url":           newPage.URL(),
	}
}

func actionTabSwitch(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if ac.Manager == nil || ac.Session == nil {
		return fail("Tab index not found")
	}
	index := intParam(params, "index", 0)
	switched, err := ac.Manager.SwitchPage(ac.Session.ID, index)
	if err != nil {
		return failf("Tab index %d not found", index)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Switched to tab %d", index),
		"page_changed":      true,
		"new_url":           switched.URL(),
	}
}

func actionTabClose(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if ac.Manager == nil || ac.Session == nil {
		return fail("Tab index not found")
	}
	index := intParam(params, "index", 0)
	if err := ac.Manager.ClosePage(ctx, ac.Session.ID, index); err != nil {
		return failf("Tab index %d not found", index)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Closed tab %d", index),
	}
}
