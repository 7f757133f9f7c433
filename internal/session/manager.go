package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/browserd/internal/compact"
	"github.com/joestump/browserd/internal/errs"
	"github.com/joestump/browserd/internal/fsm"
	"github.com/joestump/browserd/internal/loopdetect"
	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/snapshot"
	"github.com/joestump/browserd/internal/store"
)

const (
	// DefaultIdleTTL is how long a session may sit idle before the
	// sweeper reaps it.
	DefaultIdleTTL = time.Hour
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = time.Minute

	launchNavTimeout = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	Tiers         map[int]Tier
	Profiles      *profile.Store
	// DB persists session rows for cross-process visibility. Optional.
	DB            *store.Store
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// Defaults applied to new sessions.
	Humanize          bool
	HumanizeIntensity float64

	Logger *log.Logger
}

// Manager is the session registry. The registry map has its own short
// mutex; per-session work is serialized by each session's own mutex.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	tiers    map[int]Tier
	profiles *profile.Store
	db       *store.Store
	differ   *snapshot.Differ

	idleTTL       time.Duration
	sweepInterval time.Duration

	humanize          bool
	humanizeIntensity float64

	log *log.Logger
}

// NewManager builds a Manager from options, filling defaults.
func NewManager(opts Options) *Manager {
	if opts.IdleTTL == 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.HumanizeIntensity == 0 {
		opts.HumanizeIntensity = 1.0
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		tiers:             opts.Tiers,
		profiles:          opts.Profiles,
		db:                opts.DB,
		differ:            snapshot.NewDiffer(),
		idleTTL:           opts.IdleTTL,
		sweepInterval:     opts.SweepInterval,
		humanize:          opts.Humanize,
		humanizeIntensity: opts.HumanizeIntensity,
		log:               opts.Logger,
	}
}

// Differ returns the snapshot diff cache shared by all sessions.
func (m *Manager) Differ() *snapshot.Differ { return m.differ }

// LaunchRequest describes a new session.
type LaunchRequest struct {
	Tier     int
	Profile  string
	Viewport *Viewport
	URL      string
}

// LaunchResult reports a successful launch. Warning carries a navigation
// failure that did not prevent the launch itself.
type LaunchResult struct {
	Session *Session
	URL     string
	Title   string
	Warning string
}

// Launch creates a tier-specific browser session, registers handlers, and
// optionally navigates to a first URL.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	if req.Tier == 0 {
		req.Tier = 1
	}
	tier, ok := m.tiers[req.Tier]
	if !ok {
		return nil, errs.Newf("UNKNOWN", "unknown tier: %d", req.Tier)
	}

	profileDir := ""
	if req.Profile != "" {
		if err := profile.ValidateName(req.Profile); err != nil {
			return nil, err
		}
		dir, err := m.profiles.Path(req.Profile)
		if err != nil {
			return nil, err
		}
		profileDir = dir
	}

	id := newSessionID()
	downloadDir := filepath.Join(os.TempDir(), "browserd-downloads", id)
	if err := os.MkdirAll(downloadDir, 0o700); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	viewport := req.Viewport
	if viewport == nil {
		viewport = &Viewport{Width: 1280, Height: 800}
	}

	s := &Session{
		ID:                id,
		Tier:              req.Tier,
		TierImpl:          tier,
		Profile:           req.Profile,
		Viewport:          viewport,
		createdAt:         time.Now(),
		lastActivity:      time.Now(),
		refMap:            snapshot.RefMap{},
		Humanize:          m.humanize,
		HumanizeIntensity: m.humanizeIntensity,
		WebMCPTools:       make(map[string]WebMCPTool),
		DownloadDir:       downloadDir,
		Loop:              loopdetect.New(),
		Machine:           fsm.New(),
		Compaction:        compact.NewState(compact.Settings{}),
	}

	_ = s.Machine.Transition(fsm.Launching)

	handle, err := tier.Init(ctx, LaunchOptions{
		ProfileDir:  profileDir,
		Viewport:    req.Viewport,
		DownloadDir: downloadDir,
		OnDialog:    s.AddDismissed,
		OnDownload:  s.AddDownload,
	})
	if err != nil {
		_ = os.RemoveAll(downloadDir)
		return nil, errs.Wrap("UNKNOWN", fmt.Sprintf("browser launch failed (tier %d)", req.Tier), err)
	}

	page, err := handle.NewPage(ctx, "")
	if err != nil {
		_ = handle.Close(ctx)
		_ = os.RemoveAll(downloadDir)
		return nil, errs.Wrap("UNKNOWN", "open initial page failed", err)
	}
	s.handle = handle
	s.page = page

	_ = s.Machine.Transition(fsm.Observing)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.InsertSession(id, req.Tier, req.Profile, handle.PID()); err != nil {
			m.log.Printf("session %s: persist metadata: %v", id, err)
		}
	}

	res := &LaunchResult{Session: s}
	if req.URL != "" {
		navCtx, cancel := context.WithTimeout(ctx, launchNavTimeout)
		defer cancel()
		if err := page.Navigate(navCtx, req.URL); err != nil {
			res.Warning = fmt.Sprintf("navigation issue: %v", err)
		}
		res.URL = page.URL()
		if title, err := page.Title(ctx); err == nil {
			res.Title = title
		}
	}
	return res, nil
}

// Get returns the session, or nil when absent or closing.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if s == nil || s.closing.Load() {
		return nil
	}
	return s
}

// SwitchPage makes the tab at index the active page. Index is 0-based.
func (m *Manager) SwitchPage(id string, index int) (Page, error) {
	s := m.Get(id)
	if s == nil {
		return nil, errs.Newf("SESSION_NOT_FOUND", "session %s not found or expired", id)
	}
	pages := s.handle.Pages()
	if index < 0 || index >= len(pages) {
		return nil, errs.Newf("ELEMENT_NOT_FOUND", "tab index %d not found", index)
	}
	s.page = pages[index]
	return s.page, nil
}

// NewPage opens a new tab, optionally navigating it, and makes it active.
func (m *Manager) NewPage(ctx context.Context, id, url string) (Page, error) {
	s := m.Get(id)
	if s == nil {
		return nil, errs.Newf("SESSION_NOT_FOUND", "session %s not found or expired", id)
	}
	page, err := s.handle.NewPage(ctx, url)
	if err != nil {
		return nil, err
	}
	s.page = page
	return page, nil
}

// ClosePage closes the tab at index. Closing the last tab opens a blank
// page so the session always has a valid active page.
func (m *Manager) ClosePage(ctx context.Context, id string, index int) error {
	s := m.Get(id)
	if s == nil {
		return errs.Newf("SESSION_NOT_FOUND", "session %s not found or expired", id)
	}
	pages := s.handle.Pages()
	if index < 0 || index >= len(pages) {
		return errs.Newf("ELEMENT_NOT_FOUND", "tab index %d not found", index)
	}
	if err := pages[index].Close(ctx); err != nil {
		return err
	}
	remaining := s.handle.Pages()
	if len(remaining) > 0 {
		s.page = remaining[len(remaining)-1]
		return nil
	}
	blank, err := s.handle.NewPage(ctx, "")
	if err != nil {
		return err
	}
	s.page = blank
	return nil
}

// SaveState writes the browser storage state (cookies + localStorage) to
// the named profile, defaulting to the session's profile or its id.
func (m *Manager) SaveState(ctx context.Context, id, profileName string) (string, error) {
	s := m.Get(id)
	if s == nil {
		return "", errs.Newf("SESSION_NOT_FOUND", "session %s not found or expired", id)
	}
	name := profileName
	if name == "" {
		name = s.Profile
	}
	if name == "" {
		name = s.ID
	}
	s.Lock()
	defer s.Unlock()
	state, err := s.handle.StorageState(ctx)
	if err != nil {
		return "", fmt.Errorf("export storage state: %w", err)
	}
	if err := m.profiles.SaveStorageState(name, state); err != nil {
		return "", err
	}
	return name, nil
}

// Close tears down a session. The closing flag is set first so no new
// operation can start, then the session mutex is taken so any in-flight
// operation runs to completion before the browser goes away. On teardown
// failure the flag is reset and the session stays registered so a later
// close or GC pass can retry.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return errs.Newf("SESSION_NOT_FOUND", "session %s not found", id)
	}

	s.closing.Store(true)
	s.Lock()
	defer s.Unlock()
	s.Machine.Force(fsm.TearingDown)

	if err := s.handle.Close(ctx); err != nil {
		s.closing.Store(false)
		return errs.Wrap("UNKNOWN", "teardown failed", err)
	}

	m.differ.Forget(id)
	if s.DownloadDir != "" {
		_ = os.RemoveAll(s.DownloadDir)
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.DeleteSession(id); err != nil {
			m.log.Printf("session %s: delete metadata: %v", id, err)
		}
	}
	s.Machine.Force(fsm.Idle)
	return nil
}

// TouchPersisted refreshes the session's last-activity row. Called by the
// dispatcher after successful actions.
func (m *Manager) TouchPersisted(id string) {
	if m.db == nil {
		return
	}
	if err := m.db.TouchSession(id); err != nil {
		m.log.Printf("session %s: touch metadata: %v", id, err)
	}
}

// SweepIdle closes every non-closing session idle beyond the TTL and
// returns the reaped ids.
func (m *Manager) SweepIdle(ctx context.Context) []string {
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if !s.closing.Load() && s.IdleFor() > m.idleTTL {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	var reaped []string
	for _, id := range stale {
		if err := m.Close(ctx, id); err != nil {
			m.log.Printf("sweep: close %s: %v", id, err)
			continue
		}
		reaped = append(reaped, id)
	}
	return reaped
}

// Run drives the idle sweeper until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := m.SweepIdle(ctx); len(reaped) > 0 {
				m.log.Printf("gc: reaped %d idle session(s): %s", len(reaped), strings.Join(reaped, ", "))
			}
		}
	}
}

// Shutdown closes all sessions. Used on server exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.log.Printf("shutdown: close %s: %v", id, err)
		}
	}
}

// Info is a point-in-time view of one session.
type Info struct {
	SessionID         string  `json:"session_id"`
	Tier              int     `json:"tier"`
	Profile           string  `json:"profile,omitempty"`
	URL               string  `json:"url"`
	Title             string  `json:"title,omitempty"`
	TabCount          int     `json:"tab_count"`
	ActionCount       int     `json:"action_count"`
	DurationSeconds   int     `json:"duration_seconds"`
	Humanize          bool    `json:"humanize"`
	HumanizeIntensity float64 `json:"humanize_intensity"`
	State             string  `json:"state"`
}

// SessionInfo returns detail for one session, or nil when absent.
func (m *Manager) SessionInfo(ctx context.Context, id string) *Info {
	s := m.Get(id)
	if s == nil {
		return nil
	}
	info := &Info{
		SessionID:         s.ID,
		Tier:              s.Tier,
		Profile:           s.Profile,
		URL:               s.page.URL(),
		TabCount:          s.TabCount(),
		ActionCount:       s.ActionCount(),
		DurationSeconds:   int(s.Age().Seconds()),
		Humanize:          s.Humanize,
		HumanizeIntensity: s.HumanizeIntensity,
		State:             string(s.Machine.Name()),
	}
	if title, err := s.page.Title(ctx); err == nil {
		info.Title = title
	}
	return info
}

// List returns a summary of every registered session, including closing
// ones, plus any persisted rows left by other processes. Persisted-only
// entries carry state "persisted" and no live page detail.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	live := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		live[s.ID] = true
		out = append(out, Info{
			SessionID: s.ID,
			Tier:      s.Tier,
			Profile:   s.Profile,
			URL:       s.page.URL(),
			State:     string(s.Machine.Name()),
		})
	}
	m.mu.Unlock()

	if m.db != nil {
		rows, err := m.db.ListSessions()
		if err != nil {
			m.log.Printf("list persisted sessions: %v", err)
			return out
		}
		for _, r := range rows {
			if live[r.ID] {
				continue
			}
			out = append(out, Info{
				SessionID: r.ID,
				Tier:      r.Tier,
				Profile:   r.Profile,
				State:     "persisted",
			})
		}
	}
	return out
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
