package envelope

import (
	"encoding/json"
	"strings"
	"testing"
)

func serializedLen(t *testing.T, m map[string]any) int {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return len(b)
}

func TestSmallResultPassesThrough(t *testing.T) {
	in := map[string]any{"success": true, "extracted_content": "hello"}
	out := Truncate(in, 1000)
	if _, ok := out["truncated"]; ok {
		t.Error("small result should not be marked truncated")
	}
	if out["extracted_content"] != "hello" {
		t.Errorf("content mutated: %v", out["extracted_content"])
	}
}

func TestLargestFieldTruncatedFirst(t *testing.T) {
	in := map[string]any{
		"success":           true,
		"tree":              strings.Repeat("t", 5000),
		"extracted_content": strings.Repeat("c", 500),
	}
	out := Truncate(in, 2000)

	if serializedLen(t, out) > 2000 {
		t.Errorf("output still oversize: %d bytes", serializedLen(t, out))
	}
	fields := out["truncated_fields"].([]string)
	if len(fields) == 0 || fields[0] != "tree" {
		t.Errorf("truncated_fields = %v, want tree first", fields)
	}
	tree := out["tree"].(string)
	if !strings.Contains(tree, "... [truncated from 5000 chars]") {
		t.Errorf("marker missing: ...%s", tree[len(tree)-60:])
	}
	if out["extracted_content"] != strings.Repeat("c", 500) {
		t.Error("smaller field should survive when cutting the largest is enough")
	}
	if out["original_bytes"].(int) <= 2000 {
		t.Errorf("original_bytes = %v", out["original_bytes"])
	}
}

func TestSuccessAndErrorNeverTruncated(t *testing.T) {
	in := map[string]any{
		"success": false,
		"error":   strings.Repeat("e", 3000),
	}
	out := Truncate(in, 1000)
	// error is exempt from field truncation; the minimal envelope keeps it.
	if out["error"].(string) != strings.Repeat("e", 3000) {
		if _, ok := out["message"]; !ok {
			t.Error("oversized error should fall back to the minimal envelope")
		}
	}
	if out["success"] != false {
		t.Errorf("success = %v", out["success"])
	}
}

func TestMinimalEnvelopeWhenNestedDataDominates(t *testing.T) {
	refs := make(map[string]any)
	for i := 0; i < 500; i++ {
		refs[strings.Repeat("k", 20)+string(rune('a'+i%26))] = strings.Repeat("v", 50)
	}
	in := map[string]any{"success": true, "refs": refs, "tree": strings.Repeat("t", 100)}
	out := Truncate(in, 500)

	if serializedLen(t, out) > 500 {
		t.Errorf("minimal envelope still oversize: %d bytes", serializedLen(t, out))
	}
	msg, _ := out["message"].(string)
	if !strings.Contains(msg, "more targeted request") {
		t.Errorf("message = %q", msg)
	}
	if out["success"] != true {
		t.Error("success flag lost in minimal envelope")
	}
	// The report must cover the pre-truncation payload, not the envelope.
	if got := out["original_bytes"].(int); got != serializedLen(t, in) {
		t.Errorf("original_bytes = %d, want %d", got, serializedLen(t, in))
	}
}

func TestInputNotMutated(t *testing.T) {
	in := map[string]any{"success": true, "tree": strings.Repeat("t", 5000)}
	Truncate(in, 1000)
	if len(in["tree"].(string)) != 5000 {
		t.Error("Truncate mutated its input")
	}
}
