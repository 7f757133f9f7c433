package snapshot

import (
	"fmt"
	"strings"
)

// CursorElement is an element that looks clickable but carries no
// accessibility role, as enumerated by CursorInteractiveJS.
type CursorElement struct {
	Text          string `json:"text"`
	Selector      string `json:"selector"`
	Tag           string `json:"tag"`
	CursorPointer bool   `json:"cursor_pointer"`
	HasOnClick    bool   `json:"has_onclick"`
	HasTabIndex   bool   `json:"has_tabindex"`
}

// CursorInteractiveJS enumerates up to 20 visually clickable elements that
// the accessibility tree misses: computed cursor:pointer, an onclick
// handler, or a tabindex other than -1, with a non-zero bounding box and
// short non-empty text. Selectors prefer #id, then tag.class1.class2.
const CursorInteractiveJS = `() => {
    const interactiveTags = new Set([
        'a', 'button', 'input', 'select', 'textarea', 'summary', 'details'
    ]);
    const interactiveRoles = new Set([
        'button', 'link', 'textbox', 'checkbox', 'radio', 'combobox',
        'listbox', 'menuitem', 'option', 'searchbox', 'slider',
        'spinbutton', 'switch', 'tab', 'treeitem'
    ]);
    const results = [];
    const seen = new Set();

    for (const el of document.querySelectorAll('*')) {
        const tag = el.tagName.toLowerCase();
        if (interactiveTags.has(tag)) continue;

        const role = el.getAttribute('role');
        if (role && interactiveRoles.has(role)) continue;

        const style = getComputedStyle(el);
        const cursorPointer = style.cursor === 'pointer';
        const hasOnClick = el.hasAttribute('onclick') || el.onclick !== null;
        const tabIndex = el.getAttribute('tabindex');
        const hasTabIndex = tabIndex !== null && tabIndex !== '-1';

        if (!cursorPointer && !hasOnClick && !hasTabIndex) continue;

        const text = (el.textContent || '').trim().slice(0, 80);
        if (!text || seen.has(text)) continue;

        const rect = el.getBoundingClientRect();
        if (rect.width === 0 || rect.height === 0) continue;

        seen.add(text);

        let selector = tag;
        if (el.id) {
            selector = '#' + CSS.escape(el.id);
        } else if (el.className && typeof el.className === 'string') {
            const cls = el.className.trim().split(/\s+/).slice(0, 2).map(c => '.' + CSS.escape(c)).join('');
            selector = tag + cls;
        }

        results.push({
            text: text,
            selector: selector,
            tag: tag,
            cursor_pointer: cursorPointer,
            has_onclick: hasOnClick,
            has_tabindex: hasTabIndex,
        });

        if (results.length >= 20) break;
    }
    return results;
}`

// AppendCursorRefs adds refs for cursor-interactive elements, continuing
// ref numbering from the ARIA pass and skipping elements whose text
// already names an existing ref. Returns the extended tree text.
func AppendCursorRefs(tree string, refs RefMap, counter *Counter, elements []CursorElement) string {
	existing := make(map[string]bool, len(refs))
	for _, r := range refs {
		if r.Name != "" {
			existing[strings.ToLower(r.Name)] = true
		}
	}

	for _, el := range elements {
		if el.Text == "" || existing[strings.ToLower(el.Text)] {
			continue
		}
		token := counter.Next()
		role := "focusable"
		if el.CursorPointer {
			role = "clickable"
		}
		refs[token] = Ref{Role: role, Name: el.Text, CSS: el.Selector}
		tree += fmt.Sprintf("\n- [cursor-interactive] %q %s", el.Text, token)
	}
	return tree
}
