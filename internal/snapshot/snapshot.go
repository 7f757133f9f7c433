// Package snapshot parses the accessibility tree text produced by the
// browser backend into an annotated tree plus a stable ref map, and diffs
// successive snapshots per session.
//
// The input is a YAML-like indented bullet form:
//
//	- role "name":
//	  - child_role "child name"
//	- text: "some text"
//	- /url: https://example.com
package snapshot

import (
	"fmt"
	"regexp"
	"strings"
)

// Role classification. A node gets a ref iff it is interactive, or it is
// content with a non-empty name. Structural nameless nodes are flattened
// away in compact mode.
var (
	interactiveRoles = map[string]bool{
		"button": true, "link": true, "textbox": true, "checkbox": true,
		"radio": true, "combobox": true, "listbox": true, "menuitem": true,
		"option": true, "searchbox": true, "slider": true, "spinbutton": true,
		"switch": true, "tab": true, "treeitem": true,
		"menuitemcheckbox": true, "menuitemradio": true,
	}

	contentRoles = map[string]bool{
		"heading": true, "cell": true, "gridcell": true, "columnheader": true,
		"rowheader": true, "listitem": true, "article": true, "region": true,
		"main": true, "navigation": true, "complementary": true, "banner": true,
		"contentinfo": true, "form": true, "search": true, "feed": true,
		"figure": true, "img": true, "math": true, "note": true,
		"status": true, "timer": true, "alert": true, "log": true,
		"marquee": true, "progressbar": true, "meter": true,
	}

	structuralRoles = map[string]bool{
		"generic": true, "group": true, "list": true, "table": true,
		"row": true, "rowgroup": true, "menu": true, "toolbar": true,
		"tablist": true, "tabpanel": true, "tree": true, "treegrid": true,
		"grid": true, "presentation": true, "none": true, "separator": true,
		"dialog": true, "alertdialog": true, "application": true,
		"document": true, "directory": true, "paragraph": true,
	}
)

// linePattern matches one tree bullet: indent, role, optional quoted name
// (with escaped quotes), optional [attr=val] groups, optional trailing colon.
var linePattern = regexp.MustCompile(
	`^(\s*)-\s+(\w+)(?:\s+"((?:[^"\\]|\\.)*)")?((?:\s+\[\w+=\w+\])*)\s*:?\s*$`)

var attrPattern = regexp.MustCompile(`\[(\w+)=(\w+)\]`)

// Metadata bullets carry no addressable content.
var skipPrefixes = []string{"- /url:", "- /src:", "- /alt:"}

// Ref is one addressable page element. CSS is set only for
// cursor-interactive refs; ARIA refs are resolved by role and name.
type Ref struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	CSS  string `json:"css,omitempty"`
	Nth  *int   `json:"nth,omitempty"`
}

// Descriptor renders the ref's locator for display.
func (r Ref) Descriptor() string {
	if r.CSS != "" {
		return r.CSS
	}
	var b strings.Builder
	fmt.Fprintf(&b, "role=%s", r.Role)
	if r.Name != "" {
		fmt.Fprintf(&b, "[name=%q]", r.Name)
	}
	if r.Nth != nil {
		fmt.Fprintf(&b, "[nth=%d]", *r.Nth)
	}
	return b.String()
}

// RefMap maps "@eN" tokens to refs.
type RefMap map[string]Ref

// Options controls tree processing.
type Options struct {
	Compact  bool
	MaxDepth int
}

// DefaultOptions matches the dispatcher defaults.
func DefaultOptions() Options {
	return Options{Compact: true, MaxDepth: 10}
}

// Counter issues monotonically increasing ref numbers across one snapshot
// pass, shared between ARIA and cursor-interactive processing so refs
// never collide.
type Counter struct {
	n int
}

// Next returns the next "@eN" token.
func (c *Counter) Next() string {
	c.n++
	return fmt.Sprintf("@e%d", c.n)
}

// dupTracker assigns 0-based nth indices to repeated (role, name) pairs.
type dupTracker struct {
	counts map[string]int
	refs   map[string][]string
}

func newDupTracker() *dupTracker {
	return &dupTracker{counts: make(map[string]int), refs: make(map[string][]string)}
}

func (t *dupTracker) key(role, name string) string {
	return role + ":" + name
}

func (t *dupTracker) nextIndex(role, name string) int {
	k := t.key(role, name)
	idx := t.counts[k]
	t.counts[k]++
	return idx
}

func (t *dupTracker) track(role, name, ref string) {
	k := t.key(role, name)
	t.refs[k] = append(t.refs[k], ref)
}

func (t *dupTracker) isDuplicate(role, name string) bool {
	return len(t.refs[t.key(role, name)]) > 1
}

// Process parses raw tree text into an annotated tree and ref map. The
// counter may be shared with AppendCursorRefs to continue numbering.
func Process(raw string, opts Options, counter *Counter) (string, RefMap) {
	if counter == nil {
		counter = &Counter{}
	}
	refs := make(RefMap)
	tracker := newDupTracker()
	var out []string

	for _, line := range strings.Split(raw, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if hasSkipPrefix(stripped) {
			continue
		}

		if strings.HasPrefix(stripped, "- text:") {
			if !opts.Compact {
				text := strings.Trim(strings.TrimSpace(stripped[len("- text:"):]), `"`)
				if text != "" {
					out = append(out, fmt.Sprintf("%s- text %q", indentOf(line), text))
				}
			}
			continue
		}

		depth := indentLevel(line)
		if depth > opts.MaxDepth {
			continue
		}

		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			if !opts.Compact && strings.HasPrefix(stripped, "- ") {
				out = append(out, line)
			}
			continue
		}

		role := strings.ToLower(m[2])
		name := m[3]
		attrs := attrPattern.FindAllStringSubmatch(m[4], -1)

		// Structural nameless nodes are flattened: dropped from the output
		// while their descendants keep being processed.
		if opts.Compact && structuralRoles[role] && name == "" {
			continue
		}

		parts := []string{fmt.Sprintf("%s- %s", strings.Repeat("  ", depth), role)}

		if interactiveRoles[role] || (contentRoles[role] && name != "") {
			ref := counter.Next()
			nth := tracker.nextIndex(role, name)
			tracker.track(role, name, ref)
			refs[ref] = Ref{Role: role, Name: name, Nth: &nth}
			if name != "" {
				parts = append(parts, fmt.Sprintf("%q", name))
			}
			parts = append(parts, ref)
		} else if name != "" {
			parts = append(parts, fmt.Sprintf("%q", name))
		}

		for _, a := range attrs {
			parts = append(parts, fmt.Sprintf("[%s=%s]", a[1], a[2]))
		}
		out = append(out, strings.Join(parts, " "))
	}

	// Single-occurrence (role, name) pairs don't need disambiguation.
	for token, ref := range refs {
		if !tracker.isDuplicate(ref.Role, ref.Name) {
			ref.Nth = nil
			refs[token] = ref
		}
	}

	return strings.Join(out, "\n"), refs
}

func hasSkipPrefix(stripped string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(stripped, p) {
			return true
		}
	}
	return false
}

func indentOf(line string) string {
	return strings.Repeat("  ", indentLevel(line))
}

// indentLevel counts leading spaces, two per depth level.
func indentLevel(line string) int {
	spaces := len(line) - len(strings.TrimLeft(line, " "))
	return spaces / 2
}

// Header builds the banner prepended to every snapshot tree.
type Header struct {
	URL       string
	Title     string
	TabIndex  int // 1-based
	TabCount  int
	Dismissed []string
	Downloads []string
	Tools     []string
}

// String renders the banner.
func (h Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s | Title: %s\n", h.URL, h.Title)
	fmt.Fprintf(&b, "Tab %d of %d\n", h.TabIndex, h.TabCount)
	if len(h.Dismissed) > 0 {
		fmt.Fprintf(&b, "Dismissed popups: %s\n", strings.Join(h.Dismissed, ", "))
	}
	if len(h.Downloads) > 0 {
		fmt.Fprintf(&b, "Downloads: %s\n", strings.Join(h.Downloads, ", "))
	}
	if len(h.Tools) > 0 {
		fmt.Fprintf(&b, "WebMCP tools: %s\n", strings.Join(h.Tools, ", "))
	}
	b.WriteString("\n")
	return b.String()
}

// Result is the outcome of one snapshot pass, including diff counts when a
// previous snapshot exists for the session.
type Result struct {
	Success  bool   `json:"success"`
	Tree     string `json:"tree"`
	Refs     RefMap `json:"refs"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	TabCount int    `json:"tab_count"`
	Error    string `json:"error,omitempty"`

	NewCount     int `json:"new_element_count,omitempty"`
	ChangedCount int `json:"changed_element_count,omitempty"`
	RemovedCount int `json:"removed_element_count,omitempty"`
}

// InteractiveRefs counts refs with interactive roles, used for page
// fingerprinting.
func (m RefMap) InteractiveRefs() int {
	n := 0
	for _, r := range m {
		if interactiveRoles[r.Role] || r.Role == "clickable" || r.Role == "focusable" {
			n++
		}
	}
	return n
}

// TopRefKeys returns up to limit "role:name:nth" descriptors in ref order.
func (m RefMap) TopRefKeys(limit int) []string {
	var keys []string
	for i := 1; len(keys) < limit; i++ {
		token := fmt.Sprintf("@e%d", i)
		ref, ok := m[token]
		if !ok {
			break
		}
		keys = append(keys, refKey(ref))
	}
	return keys
}

func refKey(r Ref) string {
	if r.Nth != nil {
		return fmt.Sprintf("%s:%s:%d", r.Role, r.Name, *r.Nth)
	}
	return r.Role + ":" + r.Name + ":"
}
