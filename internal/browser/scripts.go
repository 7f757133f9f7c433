package browser

// axHelpersJS computes implicit ARIA roles and accessible names. Shared by
// the tree generator and the role/name locator so both agree on what an
// element is called.
const axHelpersJS = `
    const roleOf = (el) => {
        const explicit = el.getAttribute('role');
        if (explicit) return explicit.toLowerCase();
        const tag = el.tagName.toLowerCase();
        switch (tag) {
            case 'a': return el.hasAttribute('href') ? 'link' : 'generic';
            case 'button': return 'button';
            case 'select': return el.multiple ? 'listbox' : 'combobox';
            case 'textarea': return 'textbox';
            case 'img': return 'img';
            case 'nav': return 'navigation';
            case 'main': return 'main';
            case 'header': return 'banner';
            case 'footer': return 'contentinfo';
            case 'aside': return 'complementary';
            case 'form': return 'form';
            case 'article': return 'article';
            case 'section': return el.getAttribute('aria-label') ? 'region' : 'generic';
            case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
            case 'ul': case 'ol': return 'list';
            case 'li': return 'listitem';
            case 'table': return 'table';
            case 'tr': return 'row';
            case 'td': return 'cell';
            case 'th': return 'columnheader';
            case 'option': return 'option';
            case 'dialog': return 'dialog';
            case 'p': return 'paragraph';
            case 'input': {
                switch ((el.type || 'text').toLowerCase()) {
                    case 'checkbox': return 'checkbox';
                    case 'radio': return 'radio';
                    case 'button': case 'submit': case 'reset': case 'image': return 'button';
                    case 'range': return 'slider';
                    case 'number': return 'spinbutton';
                    case 'search': return 'searchbox';
                    case 'file': return 'button';
                    case 'hidden': return null;
                    default: return 'textbox';
                }
            }
            case 'script': case 'style': case 'noscript': case 'template': return null;
            default: return 'generic';
        }
    };
    const collapse = (s) => (s || '').replace(/\s+/g, ' ').trim().slice(0, 80);
    const nameOf = (el, role) => {
        const aria = el.getAttribute('aria-label');
        if (aria) return collapse(aria);
        const labelledby = el.getAttribute('aria-labelledby');
        if (labelledby) {
            const parts = labelledby.split(/\s+/).map(id => {
                const ref = document.getElementById(id);
                return ref ? ref.textContent : '';
            });
            const joined = collapse(parts.join(' '));
            if (joined) return joined;
        }
        const tag = el.tagName.toLowerCase();
        if (tag === 'img') return collapse(el.getAttribute('alt'));
        if (tag === 'input' || tag === 'textarea' || tag === 'select') {
            if (el.id) {
                const label = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
                if (label) return collapse(label.textContent);
            }
            const wrapping = el.closest('label');
            if (wrapping) return collapse(wrapping.textContent);
            if (tag === 'input' && ['button', 'submit', 'reset'].includes((el.type || '').toLowerCase())) {
                return collapse(el.value);
            }
            return collapse(el.getAttribute('placeholder'));
        }
        if (['button', 'link', 'heading', 'option', 'cell', 'columnheader',
             'listitem', 'menuitem', 'tab', 'checkbox', 'radio', 'switch',
             'treeitem'].includes(role)) {
            return collapse(el.textContent);
        }
        return collapse(el.getAttribute('title'));
    };
    const visible = (el) => {
        if (!el.getClientRects().length) return false;
        const style = getComputedStyle(el);
        return style.visibility !== 'hidden' && style.display !== 'none';
    };
`

// ariaTreeJS renders the page as an indented bullet tree. Structural
// nameless nodes are flattened in place so depth stays meaningful.
const ariaTreeJS = `() => {` + axHelpersJS + `
    const structural = new Set(['generic', 'list', 'table', 'row', 'paragraph',
        'group', 'presentation', 'none', 'document']);
    const esc = (s) => s.replace(/\\/g, '\\\\').replace(/"/g, '\\"');
    const lines = [];
    const walk = (el, depth) => {
        if (depth > 30 || !visible(el)) return;
        const role = roleOf(el);
        if (role === null) return;
        let childDepth = depth;
        if (!(structural.has(role) && !nameOf(el, role))) {
            const name = nameOf(el, role);
            let line = '  '.repeat(depth) + '- ' + role;
            if (name) line += ' "' + esc(name) + '"';
            if (role === 'heading') line += ' [level=' + (el.getAttribute('aria-level') || el.tagName[1] || 2) + ']';
            lines.push(line + ':');
            childDepth = depth + 1;
        }
        for (const child of el.children) walk(child, childDepth);
    };
    if (document.body) walk(document.body, 0);
    return lines.join('\n');
}`

// locatorJS resolves a (role, name, nth) triple to the nth matching
// element, with exact accessible-name comparison.
const locatorJS = `(role, name, nth) => {` + axHelpersJS + `
    const matches = [];
    for (const el of document.querySelectorAll('*')) {
        if (!visible(el)) continue;
        const r = roleOf(el);
        if (r !== role) continue;
        if (name && nameOf(el, r) !== name) continue;
        matches.push(el);
    }
    return matches[nth] || null;
}`

const visibleTextJS = `(max) => {
    if (!document.body) return '';
    const text = document.body.innerText || '';
    return max > 0 ? text.slice(0, max) : text;
}`

const frameURLsJS = `() => Array.from(document.querySelectorAll('iframe'))
    .map(f => f.src || '')
    .filter(src => src !== '')`

// fileInputMarkJS finds the file input nearest to the target element (the
// element itself, a descendant, or an ancestor within three levels), tags
// it for pickup, and reports how resolution went. With no nearby input it
// falls back to a unique page-wide input; multiple candidates without a
// hint from the ref are ambiguous.
const fileInputMarkJS = `(role, name, nth, css) => {` + axHelpersJS + `
    let target = null;
    if (css) {
        target = document.querySelector(css);
    } else {
        const matches = [];
        for (const el of document.querySelectorAll('*')) {
            if (!visible(el)) continue;
            const r = roleOf(el);
            if (r !== role) continue;
            if (name && nameOf(el, r) !== name) continue;
            matches.push(el);
        }
        target = matches[nth] || null;
    }
    if (!target) return 'not_found';

    let input = null;
    if (target.matches('input[type="file"]')) {
        input = target;
    } else {
        input = target.querySelector('input[type="file"]');
    }
    if (!input) {
        let node = target;
        for (let i = 0; i < 3 && node; i++) {
            node = node.parentElement;
            if (node) {
                const found = node.querySelector('input[type="file"]');
                if (found) { input = found; break; }
            }
        }
    }
    if (!input) {
        const all = document.querySelectorAll('input[type="file"]');
        if (all.length === 1) input = all[0];
        else if (all.length > 1) return 'ambiguous';
    }
    if (!input) return 'none';
    input.setAttribute('data-upload-target', '1');
    return 'ok';
}`

const fileInputClearJS = `() => {
    for (const el of document.querySelectorAll('[data-upload-target]')) {
        el.removeAttribute('data-upload-target');
    }
}`

const storageStateJS = `() => {
    const items = [];
    try {
        for (let i = 0; i < localStorage.length; i++) {
            const key = localStorage.key(i);
            items.push({ name: key, value: localStorage.getItem(key) });
        }
    } catch (e) {}
    return { origin: location.origin, localStorage: items };
}`
