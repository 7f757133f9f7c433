package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/snapshot"
)

// takeSnapshot captures the accessibility tree, annotates it with refs,
// appends cursor-interactive elements, diffs against the previous snapshot,
// and persists the new ref map on the session.
func takeSnapshot(ctx context.Context, page session.Page, params map[string]any, ac *Context) map[string]any {
	opts := snapshot.Options{
		Compact:  boolParam(params, "compact", true),
		MaxDepth: intParam(params, "max_depth", 10),
	}
	cursorInteractive := boolParam(params, "cursor_interactive", true)

	raw, err := page.AriaTree(ctx)
	if err != nil {
		return failErr(err)
	}
	if strings.TrimSpace(raw) == "" {
		return fail("Empty accessibility tree. The page may still be loading; wait and snapshot again.")
	}

	counter := &snapshot.Counter{}
	tree, refs := snapshot.Process(raw, opts, counter)

	if cursorInteractive {
		if rawEls, err := page.Eval(ctx, snapshot.CursorInteractiveJS); err == nil {
			var els []snapshot.CursorElement
			if json.Unmarshal(rawEls, &els) == nil && len(els) > 0 {
				tree = snapshot.AppendCursorRefs(tree, refs, counter, els)
			}
		}
	}

	title, _ := page.Title(ctx)
	pages := ac.pages()
	tabCount := len(pages)
	if tabCount == 0 {
		tabCount = 1
	}

	res := &snapshot.Result{
		Success:  true,
		Tree:     tree,
		Refs:     refs,
		URL:      page.URL(),
		Title:    title,
		TabCount: tabCount,
	}
	if ac.Manager != nil && ac.Session != nil {
		ac.Manager.Differ().Apply(ac.Session.ID, res)
	}

	header := snapshot.Header{
		URL:      res.URL,
		Title:    res.Title,
		TabIndex: activeTabIndex(pages, page) + 1,
		TabCount: tabCount,
	}
	if ac.Session != nil {
		header.Dismissed = dismissedLines(ac.Session)
		header.Downloads = downloadNames(ac.Session)
		header.Tools = toolNames(ac.Session)
	}

	if ac.Session != nil {
		ac.Session.SetRefMap(refs)
	}
	ac.RefMap = refs

	result := map[string]any{
		"success":   true,
		"tree":      header.String() + res.Tree,
		"refs":      refs,
		"url":       res.URL,
		"title":     res.Title,
		"tab_count": tabCount,
		"ref_count": len(refs),
	}
	if res.NewCount > 0 {
		result["new_element_count"] = res.NewCount
	}
	if res.ChangedCount > 0 {
		result["changed_element_count"] = res.ChangedCount
	}
	if res.RemovedCount > 0 {
		result["removed_element_count"] = res.RemovedCount
	}
	return result
}

func activeTabIndex(pages []session.Page, active session.Page) int {
	for i, p := range pages {
		if p == active {
			return i
		}
	}
	return 0
}

// dismissedLines formats the most recent auto-handled dialogs for the
// snapshot header.
func dismissedLines(s *session.Session) []string {
	dismissed := s.Dismissed()
	if len(dismissed) > 3 {
		dismissed = dismissed[len(dismissed)-3:]
	}
	out := make([]string, 0, len(dismissed))
	for _, d := range dismissed {
		msg := d.Message
		if len(msg) > 80 {
			msg = msg[:80]
		}
		out = append(out, fmt.Sprintf("[%s] %s -> %s", d.Type, msg, d.Action))
	}
	return out
}

func downloadNames(s *session.Session) []string {
	downloads := s.Downloads()
	out := make([]string, 0, len(downloads))
	for _, d := range downloads {
		out = append(out, d.Filename)
	}
	return out
}

func toolNames(s *session.Session) []string {
	if len(s.WebMCPTools) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.WebMCPTools))
	for name := range s.WebMCPTools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
