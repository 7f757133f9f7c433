package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "browserd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRows(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertSession("abc123def456", 2, "work", 4242); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	rows, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.ID != "abc123def456" || r.Tier != 2 || r.Profile != "work" || r.PID != 4242 {
		t.Errorf("row = %+v", r)
	}

	if err := s.TouchSession("abc123def456"); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	if err := s.DeleteSession("abc123def456"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	rows, _ = s.ListSessions()
	if len(rows) != 0 {
		t.Errorf("rows after delete = %d, want 0", len(rows))
	}
}

func TestFingerprintCreateAndReuse(t *testing.T) {
	s := newTestStore(t)

	f, err := s.GetOrCreateFingerprint("https://www.Example.com/path", "us")
	if err != nil {
		t.Fatalf("GetOrCreateFingerprint: %v", err)
	}
	if f.Domain != "example.com" {
		t.Errorf("domain = %q, want example.com", f.Domain)
	}
	if f.UserAgent == "" || f.AcceptLanguage == "" {
		t.Errorf("incomplete fingerprint: %+v", f)
	}

	again, err := s.GetOrCreateFingerprint("example.com", "us")
	if err != nil {
		t.Fatalf("second GetOrCreateFingerprint: %v", err)
	}
	if again.ID != f.ID {
		t.Errorf("expected same fingerprint on reuse: %s vs %s", again.ID, f.ID)
	}
}

func TestFingerprintUsageCounters(t *testing.T) {
	s := newTestStore(t)
	f, err := s.GetOrCreateFingerprint("example.com", "us")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RecordFingerprintUsage(f.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFingerprintUsage(f.ID, false); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetFingerprint("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.SuccessCount != 1 || got.BlockedCount != 1 || got.UseCount != 2 {
		t.Errorf("counters = %+v", got)
	}
	if got.BlockRate() != 0.5 {
		t.Errorf("block rate = %f, want 0.5", got.BlockRate())
	}
}

func TestFingerprintRotatesWhenBurned(t *testing.T) {
	s := newTestStore(t)
	f, err := s.GetOrCreateFingerprint("example.com", "us")
	if err != nil {
		t.Fatal(err)
	}

	// 5 blocks with zero successes crosses the rotation threshold.
	for i := 0; i < 5; i++ {
		if err := s.RecordFingerprintUsage(f.ID, false); err != nil {
			t.Fatal(err)
		}
	}

	rotated, err := s.GetOrCreateFingerprint("example.com", "us")
	if err != nil {
		t.Fatal(err)
	}
	if rotated.ID == f.ID {
		t.Error("burned fingerprint should have been rotated")
	}
	if rotated.BlockedCount != 0 {
		t.Errorf("fresh fingerprint carries counters: %+v", rotated)
	}
}

func TestFingerprintCleanup(t *testing.T) {
	s := newTestStore(t)
	f, err := s.GetOrCreateFingerprint("example.com", "us")
	if err != nil {
		t.Fatal(err)
	}

	// Nothing is old enough yet.
	n, err := s.CleanupFingerprints(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("cleanup removed %d, want 0", n)
	}

	// Everything is older than a zero max age.
	n, err = s.CleanupFingerprints(-time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleanup removed %d, want 1", n)
	}
	if got, _ := s.GetFingerprint("example.com"); got != nil {
		t.Errorf("fingerprint %s survived cleanup", f.ID)
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://www.Example.com/path?q=1", "example.com"},
		{"www.example.com", "example.com"},
		{"Example.com:8080", "example.com"},
		{"sub.example.com", "sub.example.com"},
	}
	for _, tc := range cases {
		if got := NormalizeDomain(tc.in); got != tc.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
