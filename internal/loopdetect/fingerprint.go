package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint is a compact digest of a page used only for stagnation
// detection. TopRefs holds up to 10 "role:name:nth" descriptors of the
// first refs in the snapshot.
type Fingerprint struct {
	URLHash          string
	InteractiveCount int
	TabCount         int
	TopRefs          []string
}

// maxTopRefs bounds the descriptor tuple carried by a fingerprint.
const maxTopRefs = 10

// NewFingerprint builds a fingerprint from page observables.
func NewFingerprint(url string, interactiveCount, tabCount int, topRefs []string) Fingerprint {
	if len(topRefs) > maxTopRefs {
		topRefs = topRefs[:maxTopRefs]
	}
	return Fingerprint{
		URLHash:          hash16(url),
		InteractiveCount: interactiveCount,
		TabCount:         tabCount,
		TopRefs:          topRefs,
	}
}

// Similarity scores two fingerprints in [0, 1]. Different URLs always score
// zero. Same URL starts at 0.5, with matching tab count, matching interactive
// count, and top-ref overlap contributing the rest.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if f.URLHash == "" || f.URLHash != other.URLHash {
		return 0.0
	}
	score := 0.5
	if f.TabCount == other.TabCount {
		score += 0.1
	}
	if f.InteractiveCount == other.InteractiveCount {
		score += 0.1
	}
	score += 0.3 * refOverlap(f.TopRefs, other.TopRefs)
	return score
}

func refOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	set := make(map[string]bool, len(a))
	for _, r := range a {
		set[r] = true
	}
	matches := 0
	for _, r := range b {
		if set[r] {
			matches++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(matches) / float64(denom)
}

// ActionHash digests a (verb, params) pair into a stable 16-hex identifier.
// session_id and timestamp params are excluded so retries of the same
// logical action hash identically.
func ActionHash(verb string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "session_id" || k == "timestamp" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte(verb + ":")
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", params[k]))
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, v...)
		buf = append(buf, ';')
	}
	return hash16(string(buf))
}

func hash16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
