package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joestump/browserd/internal/detect"
	"github.com/joestump/browserd/internal/session"
)

const webmcpCallTimeout = 30 * time.Second

// discoverResult mirrors the shape returned by the discovery script.
type discoverResult struct {
	Available bool                          `json:"available"`
	Tools     map[string]session.WebMCPTool `json:"tools"`
}

func actionWebMCPDiscover(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if !ac.WebMCPEnabled {
		return fail("WebMCP support is disabled. Set BROWSERD_WEBMCP_ENABLED=1 to enable.")
	}

	raw, err := page.Eval(ctx, detect.WebMCPDiscoverJS)
	if err != nil {
		return failErr(err)
	}
	var dr discoverResult
	if err := json.Unmarshal(raw, &dr); err != nil {
		return failErr(err)
	}

	if ac.Session != nil {
		avail := dr.Available
		ac.Session.WebMCPAvailable = &avail
		ac.Session.WebMCPTools = dr.Tools
	}

	if len(dr.Tools) == 0 {
		return map[string]any{
			"success":           true,
			"available":         dr.Available,
			"tools":             []any{},
			"extracted_content": "No WebMCP tools available on this page.",
		}
	}

	names := make([]string, 0, len(dr.Tools))
	for name := range dr.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := dr.Tools[name]
		tools = append(tools, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
			"type":         t.Type,
		})
	}
	return map[string]any{
		"success":           true,
		"available":         true,
		"tools":             tools,
		"extracted_content": fmt.Sprintf("Discovered %d WebMCP tool(s): %s", len(names), strings.Join(names, ", ")),
	}
}

func actionWebMCPCall(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if !ac.WebMCPEnabled {
		return fail("WebMCP support is disabled. Set BROWSERD_WEBMCP_ENABLED=1 to enable.")
	}
	tool := strParam(params, "tool", "")
	if tool == "" {
		return fail("Missing required param: tool")
	}
	if ac.Session != nil {
		if _, ok := ac.Session.WebMCPTools[tool]; !ok {
			return failf("Unknown WebMCP tool: %s. Run webmcp_discover first.", tool)
		}
	}

	args := params["args"]
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return failErr(err)
	}

	oldURL := page.URL()
	cctx, cancel := context.WithTimeout(ctx, webmcpCallTimeout)
	defer cancel()
	raw, err := page.Eval(cctx, detect.WebMCPCallJS, tool, string(argsJSON))
	if err != nil {
		// Declarative tools submit forms, which navigates and destroys
		// the calling JS context. If the URL moved, the tool ran.
		time.Sleep(time.Second)
		if newURL := page.URL(); newURL != oldURL {
			title, _ := page.Title(ctx)
			return map[string]any{
				"success":           true,
				"extracted_content": fmt.Sprintf("Tool %s triggered navigation to %s", tool, newURL),
				"page_changed":      true,
				"new_url":           newURL,
				"new_title":         title,
			}
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

func actionSearchPage(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	query := strParam(params, "query", "")
	if query == "" {
		return fail("Missing required param: query")
	}
	maxResults := intParam(params, "max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}

	text, err := page.VisibleText(ctx, 200000)
	if err != nil {
		return failErr(err)
	}

	needle := strings.ToLower(query)
	var matches []string
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !strings.Contains(strings.ToLower(trimmed), needle) {
			continue
		}
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		matches = append(matches, fmt.Sprintf("  %d: %s", i+1, trimmed))
		if len(matches) >= maxResults {
			break
		}
	}

	if len(matches) == 0 {
		return map[string]any{
			"success":           true,
			"match_count":       0,
			"extracted_content": fmt.Sprintf("No matches for %q on this page.", query),
		}
	}
	return map[string]any{
		"success":           true,
		"match_count":       len(matches),
		"extracted_content": fmt.Sprintf("%d match(es) for %q:\n%s", len(matches), query, strings.Join(matches, "\n")),
	}
}

func actionFindElements(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	role := strParam(params, "role", "")
	text := strParam(params, "text", "")
	if role == "" && text == "" {
		return fail("Provide at least one criterion: role or text")
	}
	if len(ac.RefMap) == 0 {
		return fail("No snapshot taken yet. Take a snapshot first.")
	}

	needle := strings.ToLower(text)
	var lines []string
	for i := 1; ; i++ {
		token := fmt.Sprintf("@e%d", i)
		ref, ok := ac.RefMap[token]
		if !ok {
			break
		}
		if role != "" && !strings.EqualFold(ref.Role, role) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(ref.Name), needle) {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s %q", token, ref.Role, ref.Name))
	}

	if len(lines) == 0 {
		return map[string]any{
			"success":           true,
			"match_count":       0,
			"extracted_content": "No elements matched the criteria.",
		}
	}
	return map[string]any{
		"success":           true,
		"match_count":       len(lines),
		"extracted_content": fmt.Sprintf("%d element(s) matched:\n%s", len(lines), strings.Join(lines, "\n")),
	}
}

const extractLinksJS = `() => {
    const out = [];
    for (const a of document.querySelectorAll('a[href]')) {
        const text = (a.textContent || '').trim().slice(0, 80);
        if (!text) continue;
        out.push(text + ': ' + a.href);
        if (out.length >= 50) break;
    }
    return out;
}`

func actionExtract(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	maxChars := intParam(params, "max_chars", 5000)
	if maxChars <= 0 {
		maxChars = 5000
	}
	includeLinks := boolParam(params, "include_links", false)

	text, err := page.VisibleText(ctx, maxChars*2)
	if err != nil {
		return failErr(err)
	}
	text = collapseBlankLines(text)
	text = truncateAtBoundary(text, maxChars)

	if includeLinks {
		if raw, err := page.Eval(ctx, extractLinksJS); err == nil {
			var links []string
			if json.Unmarshal(raw, &links) == nil && len(links) > 0 {
				text += "\n\nLinks:\n" + strings.Join(links, "\n")
			}
		}
	}

	return map[string]any{
		"success":           true,
		"extracted_content": text,
	}
}

// collapseBlankLines squeezes runs of blank lines down to one.
func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncateAtBoundary cuts text to at most maxChars, preferring a paragraph
// break and then a sentence end in the second half of the budget.
func truncateAtBoundary(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if i := strings.LastIndex(cut, "\n\n"); i > maxChars/2 {
		cut = cut[:i]
	} else if i := strings.LastIndex(cut, ". "); i > maxChars/2 {
		cut = cut[:i+1]
	}
	return cut + "\n... [truncated]"
}

func actionUploadFile(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	ref := strParam(params, "ref", "")
	if ref == "" {
		return fail("Missing required param: ref")
	}
	path := strParam(params, "path", "")
	if path == "" {
		return fail("Missing required param: path")
	}
	if _, err := os.Stat(path); err != nil {
		return failf("File not found: %s", path)
	}
	loc, e := ResolveRef(ac.RefMap, ref)
	if e != nil {
		return failFrom(e)
	}

	uctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	if err := page.SetFiles(uctx, loc, path); err != nil {
		return failErr(err)
	}
	return map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Uploaded %s to %s", filepath.Base(path), ref),
	}
}

func actionGetDownloads(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if ac.Session == nil {
		return map[string]any{"success": true, "downloads": []any{}, "extracted_content": "No downloads this session."}
	}
	downloads := ac.Session.Downloads()
	if len(downloads) == 0 {
		return map[string]any{
			"success":           true,
			"downloads":         []any{},
			"extracted_content": "No downloads this session.",
		}
	}

	list := make([]map[string]any, 0, len(downloads))
	var lines []string
	for _, d := range downloads {
		list = append(list, map[string]any{
			"filename":   d.Filename,
			"path":       d.Path,
			"url":        d.URL,
			"size_bytes": d.Size,
		})
		lines = append(lines, fmt.Sprintf("  %s (%d bytes): %s", d.Filename, d.Size, d.Path))
	}
	return map[string]any{
		"success":           true,
		"downloads":         list,
		"extracted_content": fmt.Sprintf("%d download(s):\n%s", len(list), strings.Join(lines, "\n")),
	}
}

func actionClickCoordinate(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	if !hasParam(params, "x") || !hasParam(params, "y") {
		return fail("Missing required params: x, y")
	}
	x := floatParam(params, "x", 0)
	y := floatParam(params, "y", 0)

	oldURL := page.URL()
	cctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	if err := page.ClickXY(cctx, x, y, ac.Humanize, ac.Intensity); err != nil {
		return failErr(err)
	}

	result := map[string]any{
		"success":           true,
		"extracted_content": fmt.Sprintf("Clicked at (%.0f, %.0f)", x, y),
		"page_changed":      page.URL() != oldURL,
	}
	if newURL := page.URL(); newURL != oldURL {
		title, _ := page.Title(ctx)
		result["new_url"] = newURL
		result["new_title"] = title
	}
	return result
}
