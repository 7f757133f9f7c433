package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"

	"github.com/joestump/browserd/internal/detect"
	"github.com/joestump/browserd/internal/loopdetect"
	"github.com/joestump/browserd/internal/ratelimit"
	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/solver"
)

// ExemptVerbs are read-only verbs that never consume rate-limit quota.
var ExemptVerbs = map[string]bool{
	"snapshot":    true,
	"screenshot":  true,
	"wait":        true,
	"done":        true,
	"cookies_get": true,
	"tab_switch":  true,
}

// loopSkipVerbs never feed the loop detector; repeating a read is not a loop.
var loopSkipVerbs = map[string]bool{
	"snapshot":      true,
	"screenshot":    true,
	"done":          true,
	"wait":          true,
	"search_page":   true,
	"find_elements": true,
	"extract":       true,
	"get_downloads": true,
}

// Dispatcher wraps verb execution with the full pipeline: session lookup
// and locking, rate limiting, loop detection, block detection with CAPTCHA
// auto-solve, and compaction accounting.
type Dispatcher struct {
	manager *session.Manager
	limiter *ratelimit.Limiter
	solver  *solver.Solver

	evaluateEnabled bool
	webmcpEnabled   bool
	logger          *log.Logger
}

// DispatcherOptions configures a Dispatcher. Zero-value fields get defaults.
type DispatcherOptions struct {
	Manager         *session.Manager
	Limiter         *ratelimit.Limiter
	Solver          *solver.Solver
	EvaluateEnabled bool
	WebMCPEnabled   bool
	Logger          *log.Logger
}

// NewDispatcher builds a dispatcher around a session manager.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Dispatcher{
		manager:         opts.Manager,
		limiter:         opts.Limiter,
		solver:          opts.Solver,
		evaluateEnabled: opts.EvaluateEnabled,
		webmcpEnabled:   opts.WebMCPEnabled,
		logger:          opts.Logger,
	}
}

// Execute runs one verb through the full pipeline, holding the session
// lock for the duration.
func (d *Dispatcher) Execute(ctx context.Context, sessionID, verb string, params map[string]any) map[string]any {
	s := d.manager.Get(sessionID)
	if s == nil {
		return sessionNotFound(sessionID)
	}
	s.Lock()
	defer s.Unlock()
	return d.executeLocked(ctx, s, verb, params)
}

// BatchStep is one entry in a batch request.
type BatchStep struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// MaxBatchSize bounds one batch request.
const MaxBatchSize = 20

// ExecuteBatch runs up to MaxBatchSize verbs under a single session lock.
// With stopOnError, the first failure halts the batch and its index is
// reported as stopped_at.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, sessionID string, steps []BatchStep, stopOnError bool) map[string]any {
	if len(steps) == 0 {
		return fail("Missing or invalid 'actions' list")
	}
	if len(steps) > MaxBatchSize {
		return failf("Batch limited to %d actions", MaxBatchSize)
	}
	s := d.manager.Get(sessionID)
	if s == nil {
		return sessionNotFound(sessionID)
	}
	s.Lock()
	defer s.Unlock()

	results := make([]map[string]any, 0, len(steps))
	stoppedAt := -1
	for i, step := range steps {
		var r map[string]any
		if step.Action == "" {
			r = failf("Action at index %d missing 'action' field", i)
		} else {
			r = d.executeLocked(ctx, s, step.Action, step.Params)
		}
		results = append(results, r)
		if ok, _ := r["success"].(bool); !ok && stopOnError {
			stoppedAt = i
			break
		}
	}

	out := map[string]any{
		"success": stoppedAt < 0,
		"results": results,
	}
	if stoppedAt >= 0 {
		out["stopped_at"] = stoppedAt
		if msg, ok := results[stoppedAt]["error"].(string); ok {
			out["error"] = msg
		} else {
			out["error"] = "Action failed"
		}
	} else {
		out["stopped_at"] = nil
	}
	return out
}

// executeLocked is the pipeline body. Caller holds the session lock.
func (d *Dispatcher) executeLocked(ctx context.Context, s *session.Session, verb string, params map[string]any) map[string]any {
	s.Touch()
	page := s.ActivePage()
	if page == nil {
		return sessionNotFound(s.ID)
	}
	if params == nil {
		params = map[string]any{}
	}

	domain := hostOf(page.URL())
	if !ExemptVerbs[verb] && !d.limiter.Check(domain) {
		wait := d.limiter.WaitTime(domain).Seconds()
		return map[string]any{
			"success":      false,
			"error":        fmt.Sprintf("Rate limited on %s. Wait %.1fs.", domain, wait),
			"code":         "RATE_LIMITED",
			"wait_seconds": math.Round(wait*10) / 10,
		}
	}

	intensity := s.HumanizeIntensity
	if s.Humanize && isSensitive(domain) && intensity < 1.3 {
		intensity = 1.3
	}
	ac := &Context{
		Session:         s,
		Manager:         d.manager,
		RefMap:          s.RefMap(),
		Tier:            s.Tier,
		Humanize:        s.Humanize,
		Intensity:       intensity,
		EvaluateEnabled: d.evaluateEnabled,
		WebMCPEnabled:   d.webmcpEnabled,
	}

	oldURL := page.URL()
	result := Execute(ctx, page, verb, params, ac)
	s.BumpActionCount()

	// The verb may have switched or closed tabs.
	active := s.ActivePage()
	if active == nil {
		active = page
	}

	if s.Loop != nil && !loopSkipVerbs[verb] {
		var fp *loopdetect.Fingerprint
		if refs := s.RefMap(); len(refs) > 0 {
			f := loopdetect.NewFingerprint(active.URL(), refs.InteractiveRefs(), s.TabCount(), refs.TopRefKeys(10))
			fp = &f
		}
		if warning := s.Loop.Record(verb, params, fp); warning != "" {
			result["loop_warning"] = warning
		}
	}

	pageChanged, _ := result["page_changed"].(bool)
	if pageChanged && s.Loop != nil && hostOf(oldURL) != hostOf(active.URL()) {
		s.Loop.Reset()
	}

	success, _ := result["success"].(bool)
	if success {
		if !ExemptVerbs[verb] {
			d.limiter.Record(hostOf(active.URL()))
		}
		d.manager.TouchPersisted(s.ID)
	}

	if pageChanged {
		d.checkBlocked(ctx, active, result)
	}

	if s.Compaction != nil {
		if b, err := json.Marshal(result); err == nil {
			s.Compaction.RecordStep(len(b))
		}
		if s.Compaction.ShouldCompact() {
			result["compaction_recommended"] = true
		}
	}
	return result
}

// checkBlocked probes the page for anti-bot interstitials after a
// page-changing action and attempts a CAPTCHA solve when keys are set.
func (d *Dispatcher) checkBlocked(ctx context.Context, page session.Page, result map[string]any) {
	title, _ := page.Title(ctx)
	sample, _ := page.VisibleText(ctx, 2000)
	protection := detect.CheckBlocked(title, page.URL(), sample)
	if protection == "" {
		return
	}
	result["blocked"] = true
	result["protection"] = protection

	if (protection != "captcha" && protection != "cloudflare") || d.solver == nil || !d.solver.Configured() {
		return
	}
	sr := d.solver.Solve(ctx, page)
	if sr.Success {
		result["captcha_solved"] = true
		result["solver"] = sr.Solver
		result["solve_time_s"] = sr.SolveTimeS
		result["blocked"] = false
		d.logger.Printf("solved %s challenge on %s via %s in %.1fs", sr.CaptchaType, hostOf(page.URL()), sr.Solver, sr.SolveTimeS)
	} else {
		result["captcha_solve_failed"] = true
		result["captcha_error"] = sr.Error
	}
}

func sessionNotFound(id string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   fmt.Sprintf("Session %s not found or expired", id),
		"code":    "SESSION_NOT_FOUND",
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// isSensitive reports whether a host falls under a tightened rate-limit
// pattern, which also triggers the humanization intensity floor.
func isSensitive(host string) bool {
	for pattern := range ratelimit.DefaultPolicy {
		if pattern == "default" {
			continue
		}
		if strings.Contains(host, pattern) {
			return true
		}
	}
	return false
}
