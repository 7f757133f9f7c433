package snapshot

import (
	"sort"
	"strings"
	"sync"
)

// Differ remembers the previous snapshot's refs per session and annotates
// each new snapshot with what changed. Keys are (role, name, nth) tuples;
// a key present in both maps counts as changed when its locator differs.
type Differ struct {
	mu   sync.Mutex
	prev map[string]RefMap // session id -> last ref map
}

// NewDiffer creates an empty differ.
func NewDiffer() *Differ {
	return &Differ{prev: make(map[string]RefMap)}
}

// Apply diffs res against the session's previous snapshot, fills in the
// counts, prefixes new/changed tree lines with "*", appends a removed
// section, and stores res.Refs as the new baseline.
func (d *Differ) Apply(sessionID string, res *Result) {
	d.mu.Lock()
	prev, hadPrev := d.prev[sessionID]
	d.prev[sessionID] = res.Refs
	d.mu.Unlock()

	if !hadPrev {
		return
	}

	prevByKey := byKey(prev)
	curByKey := byKey(res.Refs)

	status := make(map[string]string) // ref token -> "new" | "changed"
	var removed []string

	for token, ref := range res.Refs {
		key := refKey(ref)
		old, ok := prevByKey[key]
		switch {
		case !ok:
			status[token] = "new"
			res.NewCount++
		case old.Descriptor() != ref.Descriptor():
			status[token] = "changed"
			res.ChangedCount++
		}
	}
	for key := range prevByKey {
		if _, ok := curByKey[key]; !ok {
			removed = append(removed, key)
		}
	}
	res.RemovedCount = len(removed)

	if len(status) > 0 {
		res.Tree = markLines(res.Tree, status)
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		res.Tree += "\n\nRemoved since last snapshot:\n- " + strings.Join(removed, "\n- ")
	}
}

// Forget drops the stored baseline for a session. Called on close.
func (d *Differ) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.prev, sessionID)
	d.mu.Unlock()
}

func byKey(m RefMap) map[string]Ref {
	out := make(map[string]Ref, len(m))
	for _, r := range m {
		out[refKey(r)] = r
	}
	return out
}

// markLines prefixes lines mentioning a new or changed ref token with "*".
func markLines(tree string, status map[string]string) string {
	lines := strings.Split(tree, "\n")
	for i, line := range lines {
		for token := range status {
			if lineHasToken(line, token) {
				lines[i] = "*" + line
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// lineHasToken matches "@eN" as a whole token so "@e1" does not match "@e10".
func lineHasToken(line, token string) bool {
	idx := strings.Index(line, token)
	if idx < 0 {
		return false
	}
	end := idx + len(token)
	return end == len(line) || !isDigit(line[end])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
