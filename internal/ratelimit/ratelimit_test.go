package ratelimit

import (
	"testing"
	"time"
)

// newTestLimiter returns a limiter with a controllable clock.
func newTestLimiter(t *testing.T, policy map[string]int) (*Limiter, *time.Time) {
	t.Helper()
	l := New(policy)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimitMatching(t *testing.T) {
	l := New(nil)
	cases := []struct {
		domain string
		want   int
	}{
		{"www.linkedin.com", 4},
		{"linkedin.com", 4},
		{"x.com", 6},
		{"instagram.com", 4},
		{"example.com", 8},
		{"", 8},
	}
	for _, tc := range cases {
		if got := l.Limit(tc.domain); got != tc.want {
			t.Errorf("Limit(%q) = %d, want %d", tc.domain, got, tc.want)
		}
	}
}

func TestLongestPatternWins(t *testing.T) {
	l := New(map[string]int{
		"default":          8,
		"example.com":      2,
		"shop.example.com": 5,
	})
	if got := l.Limit("shop.example.com"); got != 5 {
		t.Errorf("Limit = %d, want 5 (most specific pattern)", got)
	}
	if got := l.Limit("blog.example.com"); got != 2 {
		t.Errorf("Limit = %d, want 2", got)
	}
}

func TestCheckAndRecord(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]int{"default": 2})

	if !l.Check("example.com") {
		t.Fatal("fresh domain should be allowed")
	}
	l.Record("example.com")
	l.Record("example.com")
	if l.Check("example.com") {
		t.Error("quota of 2 exhausted, check should fail")
	}
	if l.Check("other.com") {
		// other.com has its own window
	} else {
		t.Error("unrelated domain should be unaffected")
	}
}

func TestCheckDoesNotConsumeQuota(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]int{"default": 1})
	for i := 0; i < 5; i++ {
		if !l.Check("example.com") {
			t.Fatal("repeated checks must not consume quota")
		}
	}
}

func TestWindowExpiry(t *testing.T) {
	l, now := newTestLimiter(t, map[string]int{"default": 2})

	l.Record("example.com")
	l.Record("example.com")
	if l.Check("example.com") {
		t.Fatal("window full")
	}

	*now = now.Add(61 * time.Second)
	if !l.Check("example.com") {
		t.Error("entries older than 60s should have been pruned")
	}
	if w := l.WaitTime("example.com"); w != 0 {
		t.Errorf("WaitTime = %v, want 0 after expiry", w)
	}
}

func TestWaitTime(t *testing.T) {
	l, now := newTestLimiter(t, map[string]int{"default": 1})

	if w := l.WaitTime("example.com"); w != 0 {
		t.Fatalf("WaitTime on empty window = %v, want 0", w)
	}
	l.Record("example.com")
	*now = now.Add(20 * time.Second)
	w := l.WaitTime("example.com")
	if w != 40*time.Second {
		t.Errorf("WaitTime = %v, want 40s", w)
	}
}
