package snapshot

import (
	"fmt"
	"strings"
	"testing"
)

const exampleTree = `- document:
  - generic:
    - heading "Example Domain" [level=1]
    - paragraph:
      - text: "This domain is for use in illustrative examples."
    - paragraph:
      - link "More information...":
        - /url: https://www.iana.org/domains/example`

func TestProcessCompact(t *testing.T) {
	tree, refs := Process(exampleTree, DefaultOptions(), nil)

	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2: %v", len(refs), refs)
	}
	h, ok := refs["@e1"]
	if !ok || h.Role != "heading" || h.Name != "Example Domain" {
		t.Errorf("@e1 = %+v, want heading 'Example Domain'", h)
	}
	l, ok := refs["@e2"]
	if !ok || l.Role != "link" || l.Name != "More information..." {
		t.Errorf("@e2 = %+v, want link 'More information...'", l)
	}

	if strings.Contains(tree, "generic") || strings.Contains(tree, "paragraph") {
		t.Errorf("structural nameless nodes should be flattened:\n%s", tree)
	}
	if strings.Contains(tree, "/url") {
		t.Errorf("metadata bullets should be skipped:\n%s", tree)
	}
	if strings.Contains(tree, "This domain is for use") {
		t.Errorf("text nodes hidden in compact mode:\n%s", tree)
	}
	if !strings.Contains(tree, "[level=1]") {
		t.Errorf("attributes should be preserved:\n%s", tree)
	}
}

func TestProcessNonCompactShowsText(t *testing.T) {
	tree, _ := Process(exampleTree, Options{Compact: false, MaxDepth: 10}, nil)
	if !strings.Contains(tree, "This domain is for use") {
		t.Errorf("text nodes shown in non-compact mode:\n%s", tree)
	}
	if !strings.Contains(tree, "- document") {
		t.Errorf("structural nodes shown in non-compact mode:\n%s", tree)
	}
}

func TestRefNumberingContiguous(t *testing.T) {
	raw := `- button "A"
- button "B"
- link "C"
- textbox "D"`
	_, refs := Process(raw, DefaultOptions(), nil)
	if len(refs) != 4 {
		t.Fatalf("refs = %d, want 4", len(refs))
	}
	for i := 1; i <= 4; i++ {
		if _, ok := refs[fmt.Sprintf("@e%d", i)]; !ok {
			t.Errorf("missing @e%d", i)
		}
	}
}

func TestDuplicateNth(t *testing.T) {
	raw := `- button "Submit"
- link "Home"
- button "Submit"`
	_, refs := Process(raw, DefaultOptions(), nil)

	first := refs["@e1"]
	second := refs["@e3"]
	if first.Nth == nil || *first.Nth != 0 {
		t.Errorf("first Submit nth = %v, want 0", first.Nth)
	}
	if second.Nth == nil || *second.Nth != 1 {
		t.Errorf("second Submit nth = %v, want 1", second.Nth)
	}
	if home := refs["@e2"]; home.Nth != nil {
		t.Errorf("unique (role,name) must not carry nth: %v", *home.Nth)
	}
}

func TestEscapedQuotesInName(t *testing.T) {
	raw := `- button "Click \"here\" now"`
	_, refs := Process(raw, DefaultOptions(), nil)
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1", len(refs))
	}
	if refs["@e1"].Name != `Click \"here\" now` {
		t.Errorf("name = %q", refs["@e1"].Name)
	}
}

func TestMaxDepthDropsDeepNodes(t *testing.T) {
	deep := "- button \"Top\"\n" + strings.Repeat("  ", 12) + `- button "Deep"`
	_, refs := Process(deep, DefaultOptions(), nil)
	if len(refs) != 1 {
		t.Errorf("refs = %d, want 1 (deep node dropped)", len(refs))
	}
}

func TestCursorRefsContinueNumbering(t *testing.T) {
	var counter Counter
	tree, refs := Process(`- button "Submit"`, DefaultOptions(), &counter)
	tree = AppendCursorRefs(tree, refs, &counter, []CursorElement{
		{Text: "Open menu", Selector: "#menu", Tag: "div", CursorPointer: true},
		{Text: "Submit", Selector: "div.dup", Tag: "div", CursorPointer: true},
		{Text: "Focus me", Selector: "div.focus", Tag: "div"},
	})

	if len(refs) != 3 {
		t.Fatalf("refs = %d, want 3 (duplicate text skipped): %v", len(refs), refs)
	}
	menu := refs["@e2"]
	if menu.Role != "clickable" || menu.CSS != "#menu" {
		t.Errorf("@e2 = %+v, want clickable #menu", menu)
	}
	if refs["@e3"].Role != "focusable" {
		t.Errorf("@e3 role = %q, want focusable", refs["@e3"].Role)
	}
	if !strings.Contains(tree, `[cursor-interactive] "Open menu" @e2`) {
		t.Errorf("tree missing cursor entry:\n%s", tree)
	}
}

func TestHeader(t *testing.T) {
	h := Header{
		URL: "https://example.com", Title: "Example Domain",
		TabIndex: 1, TabCount: 2,
		Downloads: []string{"report.pdf"},
	}
	s := h.String()
	if !strings.Contains(s, "Page: https://example.com | Title: Example Domain") {
		t.Errorf("header = %q", s)
	}
	if !strings.Contains(s, "Tab 1 of 2") {
		t.Errorf("header = %q", s)
	}
	if !strings.Contains(s, "report.pdf") {
		t.Errorf("header = %q", s)
	}
}

func TestDescriptor(t *testing.T) {
	nth := 1
	cases := []struct {
		ref  Ref
		want string
	}{
		{Ref{Role: "button", Name: "OK"}, `role=button[name="OK"]`},
		{Ref{Role: "button", Name: "OK", Nth: &nth}, `role=button[name="OK"][nth=1]`},
		{Ref{Role: "clickable", Name: "Menu", CSS: "#menu"}, "#menu"},
	}
	for _, tc := range cases {
		if got := tc.ref.Descriptor(); got != tc.want {
			t.Errorf("Descriptor(%+v) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestDifferUnchangedPage(t *testing.T) {
	d := NewDiffer()

	first := processResult(t, exampleTree)
	d.Apply("s1", first)
	if first.NewCount != 0 || first.RemovedCount != 0 || first.ChangedCount != 0 {
		t.Errorf("first snapshot must not report a diff: %+v", first)
	}

	second := processResult(t, exampleTree)
	d.Apply("s1", second)
	if second.NewCount != 0 || second.RemovedCount != 0 || second.ChangedCount != 0 {
		t.Errorf("unchanged page reported a diff: %+v", second)
	}
	if strings.Contains(second.Tree, "*") {
		t.Errorf("unchanged page has marked lines:\n%s", second.Tree)
	}
}

func TestDifferNewAndRemoved(t *testing.T) {
	d := NewDiffer()
	d.Apply("s1", processResult(t, `- link "Old"`))

	res := processResult(t, `- link "Fresh"`)
	d.Apply("s1", res)

	if res.NewCount != 1 {
		t.Errorf("NewCount = %d, want 1", res.NewCount)
	}
	if res.RemovedCount != 1 {
		t.Errorf("RemovedCount = %d, want 1", res.RemovedCount)
	}
	if !strings.Contains(res.Tree, `*- link "Fresh" @e1`) {
		t.Errorf("new line not marked:\n%s", res.Tree)
	}
	if !strings.Contains(res.Tree, "Removed since last snapshot") {
		t.Errorf("removed section missing:\n%s", res.Tree)
	}
	if !strings.Contains(res.Tree, "link:Old:") {
		t.Errorf("removed key missing:\n%s", res.Tree)
	}
}

func TestDifferChangedLocator(t *testing.T) {
	d := NewDiffer()

	var c1 Counter
	tree1, refs1 := Process("", DefaultOptions(), &c1)
	tree1 = AppendCursorRefs(tree1, refs1, &c1, []CursorElement{
		{Text: "Menu", Selector: "#menu", CursorPointer: true},
	})
	d.Apply("s1", &Result{Success: true, Tree: tree1, Refs: refs1})

	var c2 Counter
	tree2, refs2 := Process("", DefaultOptions(), &c2)
	tree2 = AppendCursorRefs(tree2, refs2, &c2, []CursorElement{
		{Text: "Menu", Selector: "div.nav", CursorPointer: true},
	})
	res := &Result{Success: true, Tree: tree2, Refs: refs2}
	d.Apply("s1", res)

	if res.ChangedCount != 1 {
		t.Errorf("ChangedCount = %d, want 1", res.ChangedCount)
	}
	if !strings.HasPrefix(strings.TrimPrefix(res.Tree, "\n"), "*") && !strings.Contains(res.Tree, "*-") {
		t.Errorf("changed line not marked:\n%s", res.Tree)
	}
}

func TestDifferForget(t *testing.T) {
	d := NewDiffer()
	d.Apply("s1", processResult(t, `- link "Old"`))
	d.Forget("s1")

	res := processResult(t, `- link "Fresh"`)
	d.Apply("s1", res)
	if res.NewCount != 0 {
		t.Errorf("diff after Forget: %+v", res)
	}
}

func TestTopRefKeys(t *testing.T) {
	_, refs := Process(`- button "A"
- button "B"
- button "A"`, DefaultOptions(), nil)
	keys := refs.TopRefKeys(10)
	if len(keys) != 3 {
		t.Fatalf("keys = %v", keys)
	}
	if keys[0] != "button:A:0" || keys[1] != "button:B:" || keys[2] != "button:A:1" {
		t.Errorf("keys = %v", keys)
	}
}

func processResult(t *testing.T, raw string) *Result {
	t.Helper()
	tree, refs := Process(raw, DefaultOptions(), nil)
	return &Result{Success: true, Tree: tree, Refs: refs}
}
