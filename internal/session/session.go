package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joestump/browserd/internal/compact"
	"github.com/joestump/browserd/internal/fsm"
	"github.com/joestump/browserd/internal/loopdetect"
	"github.com/joestump/browserd/internal/snapshot"
)

// Session is one live browser session. All mutating operations must run
// while holding the session mutex via Lock/Unlock; the dispatcher and the
// HTTP layer enforce this. After closing is set, no new operation may
// start, but in-flight operations run to completion.
type Session struct {
	ID      string
	Tier    int
	TierImpl Tier
	Profile string
	// Viewport is the page size in effect, defaulted at launch when the
	// request leaves it unset. Page-sized scrolls use its height.
	Viewport *Viewport

	mu sync.Mutex
	// closing is atomic so lock-free readers (Get, the sweeper) see it
	// without taking the session mutex an in-flight action may hold.
	closing atomic.Bool

	handle BrowserHandle
	page   Page

	createdAt    time.Time
	lastActivity time.Time
	actionCount  int

	refMap snapshot.RefMap

	Humanize          bool
	HumanizeIntensity float64

	// nil until webmcp_discover has probed the page.
	WebMCPAvailable *bool
	WebMCPTools     map[string]WebMCPTool

	DownloadDir string
	// eventsMu guards the slices fed by browser event callbacks, which
	// fire outside the session mutex.
	eventsMu  sync.Mutex
	downloads []Download
	dismissed []DismissedDialog

	Loop       *loopdetect.Detector
	Machine    *fsm.Machine
	Compaction *compact.State
}

// Lock acquires the session mutex, serializing operations on this session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.lastActivity = time.Now()
}

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.lastActivity)
}

// Age returns the session lifetime.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Closing reports whether teardown has begun.
func (s *Session) Closing() bool { return s.closing.Load() }

// ActivePage returns the current tab, or nil when the session is closing.
func (s *Session) ActivePage() Page {
	if s.closing.Load() {
		return nil
	}
	return s.page
}

// Handle returns the browser handle, or nil when the session is closing.
func (s *Session) Handle() BrowserHandle {
	if s.closing.Load() {
		return nil
	}
	return s.handle
}

// SetActivePage switches the active tab.
func (s *Session) SetActivePage(p Page) { s.page = p }

// TabCount returns the number of open tabs.
func (s *Session) TabCount() int {
	if s.handle == nil {
		return 0
	}
	return len(s.handle.Pages())
}

// RefMap returns the authoritative ref map from the last snapshot.
func (s *Session) RefMap() snapshot.RefMap { return s.refMap }

// SetRefMap overwrites the ref map. Called in the same critical section
// that produced the snapshot, so readers never mix maps and snapshots.
func (s *Session) SetRefMap(m snapshot.RefMap) { s.refMap = m }

// BumpActionCount increments and returns the action counter.
func (s *Session) BumpActionCount() int {
	s.actionCount++
	return s.actionCount
}

// ActionCount returns the number of dispatched actions.
func (s *Session) ActionCount() int { return s.actionCount }

// AddDownload records an auto-saved file. Safe to call from browser
// event goroutines.
func (s *Session) AddDownload(d Download) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.downloads = append(s.downloads, d)
}

// Downloads returns a copy of the recorded downloads.
func (s *Session) Downloads() []Download {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make([]Download, len(s.downloads))
	copy(out, s.downloads)
	return out
}

// AddDismissed records an auto-handled dialog. Safe to call from browser
// event goroutines.
func (s *Session) AddDismissed(d DismissedDialog) {
	if len(d.Message) > 200 {
		d.Message = d.Message[:200]
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.dismissed = append(s.dismissed, d)
}

// Dismissed returns a copy of the auto-handled dialogs.
func (s *Session) Dismissed() []DismissedDialog {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make([]DismissedDialog, len(s.dismissed))
	copy(out, s.dismissed)
	return out
}
