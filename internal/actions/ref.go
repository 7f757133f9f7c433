package actions

import (
	"strings"

	"github.com/joestump/browserd/internal/errs"
	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/snapshot"
)

// ParseRef canonicalizes a ref argument to "@eN" form. Accepts "@e1",
// "ref=e1", and bare "e1".
func ParseRef(s string) (string, bool) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "@"):
		s = s[1:]
	case strings.HasPrefix(s, "ref="):
		s = s[4:]
	}
	if !strings.HasPrefix(s, "e") || len(s) < 2 {
		return "", false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return "@" + s, true
}

// ResolveRef maps a ref argument to a locator using the ref map from the
// last snapshot. Cursor-interactive refs resolve by CSS selector; ARIA
// refs resolve by role and exact name, disambiguated by nth.
func ResolveRef(refMap snapshot.RefMap, refArg string) (session.Locator, *errs.Error) {
	token, ok := ParseRef(refArg)
	if !ok {
		return session.Locator{}, errs.Newf("REF_NOT_FOUND", "Ref %s not found. Take a new snapshot.", refArg)
	}
	ref, ok := refMap[token]
	if !ok {
		return session.Locator{}, errs.Newf("REF_NOT_FOUND", "Ref %s not found. Take a new snapshot.", refArg)
	}

	if ref.Role == "clickable" || ref.Role == "focusable" {
		return session.Locator{CSS: ref.CSS}, nil
	}

	loc := session.Locator{Role: ref.Role, Name: ref.Name}
	if ref.Nth != nil {
		loc.Nth = *ref.Nth
		loc.HasNth = true
	}
	return loc, nil
}
