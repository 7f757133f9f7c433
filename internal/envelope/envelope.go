// Package envelope bounds serialized action results. Oversized results
// keep their success/error semantics: the largest string fields are cut
// first and the truncation is annotated so the agent knows what it lost.
package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultMaxBytes is the serialized response budget.
const DefaultMaxBytes = 100000

// metadata margin reserved when estimating how much to cut from a field.
const truncateMargin = 200

// Truncate returns a result guaranteed to serialize within maxBytes. The
// input map is not modified. Results already within budget pass through
// unchanged.
func Truncate(result map[string]any, maxBytes int) map[string]any {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	serialized, err := json.Marshal(result)
	if err != nil || len(serialized) <= maxBytes {
		return result
	}
	originalBytes := len(serialized)

	out := make(map[string]any, len(result)+3)
	for k, v := range result {
		out[k] = v
	}

	type candidate struct {
		key  string
		size int
	}
	var candidates []candidate
	for key, val := range out {
		s, ok := val.(string)
		if !ok || key == "success" || key == "error" {
			continue
		}
		candidates = append(candidates, candidate{key, len(s)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].size != candidates[j].size {
			return candidates[i].size > candidates[j].size
		}
		return candidates[i].key < candidates[j].key
	})

	var truncatedFields []string
	for _, c := range candidates {
		serialized, err = json.Marshal(out)
		if err != nil || len(serialized) <= maxBytes {
			break
		}
		overshoot := len(serialized) - maxBytes
		val := out[c.key].(string)
		keep := len(val) - overshoot - truncateMargin
		if keep < 0 {
			keep = 0
		}
		out[c.key] = val[:keep] + fmt.Sprintf("... [truncated from %d chars]", len(val))
		truncatedFields = append(truncatedFields, c.key)
	}

	out["truncated"] = true
	out["truncated_fields"] = truncatedFields
	out["original_bytes"] = originalBytes

	// Nested non-string data (refs, tool lists) can keep the result over
	// budget. Fall back to a minimal envelope.
	serialized, err = json.Marshal(out)
	if err == nil && len(serialized) <= maxBytes {
		return out
	}
	success, _ := result["success"].(bool)
	errMsg, _ := result["error"].(string)
	return map[string]any{
		"success":        success,
		"error":          errMsg,
		"truncated":      true,
		"original_bytes": originalBytes,
		"message": "Response exceeded size limit even after field truncation. " +
			"Use a more targeted request to reduce output size.",
	}
}
