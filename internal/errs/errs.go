// Package errs defines the structured error taxonomy surfaced by the
// dispatcher. Every error carries a stable code, a recoverability level,
// and actionable guidance for the calling agent.
package errs

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Recoverability tells the caller what to do with a failed action.
type Recoverability string

const (
	// Recoverable errors should be retried, usually after a fresh snapshot.
	Recoverable Recoverability = "recoverable"
	// Escalatable errors suggest a stealth tier or strategy change.
	Escalatable Recoverability = "escalatable"
	// NonRecoverable errors mean the task should be abandoned.
	NonRecoverable Recoverability = "non_recoverable"
)

// Error is a structured browser error with recoverability and guidance.
type Error struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Recoverability Recoverability `json:"recoverability"`
	AgentAction    string         `json:"agent_action,omitempty"`
	UserAction     string         `json:"user_action,omitempty"`
	AtState        string         `json:"at_state,omitempty"`
	TimestampMs    int64          `json:"timestamp_ms"`
	Cause          error          `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// AgentMessage formats the error for inclusion in action results.
func (e *Error) AgentMessage() string {
	if e.AgentAction == "" {
		return e.Message
	}
	return e.Message + " Suggested: " + e.AgentAction
}

// IsRecoverable reports whether the error should simply be retried.
func (e *Error) IsRecoverable() bool { return e.Recoverability == Recoverable }

// IsEscalatable reports whether the error suggests a tier change.
func (e *Error) IsEscalatable() bool { return e.Recoverability == Escalatable }

type catalogEntry struct {
	recoverability Recoverability
	agentAction    string
	userAction     string
}

var catalog = map[string]catalogEntry{
	"TIMEOUT_ACTION": {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot to verify element exists, then retry.",
		userAction:     "Page may be slow, the agent will retry.",
	},
	"TIMEOUT_NAVIGATION": {
		recoverability: Recoverable,
		agentAction:    "Check URL, wait for load, retry navigation.",
		userAction:     "Site may be slow to respond.",
	},
	"ELEMENT_NOT_VISIBLE": {
		recoverability: Recoverable,
		agentAction:    "Scroll element into view or dismiss overlays, then retry.",
	},
	"ELEMENT_DETACHED": {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot, page content changed.",
	},
	"ELEMENT_NOT_FOUND": {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot. Ref may be stale.",
	},
	"REF_NOT_FOUND": {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot. Ref may be stale.",
	},
	"FRAME_DETACHED": {
		recoverability: Recoverable,
		agentAction:    "Take a new snapshot, iframe navigated away.",
	},
	"CONTEXT_DESTROYED": {
		recoverability: Recoverable,
		agentAction:    "Page navigated during action. Snapshot the new page.",
	},
	"TARGET_CLOSED": {
		recoverability: Escalatable,
		agentAction:    "Tab/context closed. Relaunch session or switch tab.",
		userAction:     "Browser tab was closed unexpectedly.",
	},
	"NETWORK_ERROR": {
		recoverability: Escalatable,
		agentAction:    "Check URL. If blocked, escalate stealth tier.",
		userAction:     "Site may be blocking access.",
	},
	"CHALLENGE_DETECTED": {
		recoverability: Escalatable,
		agentAction:    "Escalate to higher stealth tier.",
		userAction:     "Site has anti-bot protection, escalating stealth.",
	},
	"CAPTCHA_DETECTED": {
		recoverability: Escalatable,
		agentAction:    "CAPTCHA detected. Escalate tier or wait and retry.",
		userAction:     "Site is showing a CAPTCHA challenge.",
	},
	"RATE_LIMITED": {
		recoverability: Recoverable,
		agentAction:    "Wait before retrying. Reduce action frequency on this domain.",
		userAction:     "Pausing to avoid rate limiting on this site.",
	},
	"SESSION_NOT_FOUND": {
		recoverability: NonRecoverable,
		agentAction:    "Launch a new session.",
	},
	"BROWSER_CRASHED": {
		recoverability: NonRecoverable,
		agentAction:    "Relaunch browser session from scratch.",
		userAction:     "Browser process crashed. Restarting.",
	},
	"INVALID_TRANSITION": {
		recoverability: NonRecoverable,
		agentAction:    "Internal error, invalid state transition.",
	},
	"DEADLINE_EXCEEDED": {
		recoverability: Escalatable,
		agentAction:    "State timed out. Evaluate and recover.",
	},
	"STEP_BUDGET_EXCEEDED": {
		recoverability: NonRecoverable,
		agentAction:    "Maximum steps reached. Report progress and stop.",
		userAction:     "Task hit step limit. Review partial results.",
	},
	"UNKNOWN": {
		recoverability: NonRecoverable,
		agentAction:    "Take a snapshot to assess state.",
	},
}

// New creates a structured error from the catalog. Unknown codes fall back
// to the UNKNOWN entry but keep the given code.
func New(code, message string) *Error {
	entry, ok := catalog[code]
	if !ok {
		entry = catalog["UNKNOWN"]
	}
	return &Error{
		Code:           code,
		Message:        message,
		Recoverability: entry.recoverability,
		AgentAction:    entry.agentAction,
		UserAction:     entry.userAction,
		TimestampMs:    time.Now().UnixMilli(),
	}
}

// Newf is New with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a catalog error that records cause for unwrapping.
func Wrap(code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

var (
	timeoutRe  = regexp.MustCompile(`(\d+)ms`)
	netErrRe   = regexp.MustCompile(`net::(ERR_\w+)`)
	contextCut = "execution context was destroyed"
)

type pattern struct {
	substr string
	code   string
	msg    func(raw string) string
}

var patterns = []pattern{
	{"context deadline exceeded", "TIMEOUT_ACTION", func(raw string) string {
		return "Action timed out."
	}},
	{"timeout", "TIMEOUT_ACTION", func(raw string) string {
		if m := timeoutRe.FindStringSubmatch(raw); m != nil {
			return fmt.Sprintf("Action timed out after %sms.", m[1])
		}
		return "Action timed out."
	}},
	{"not visible", "ELEMENT_NOT_VISIBLE", func(string) string {
		return "Element is present but not visible (hidden by CSS, behind overlay, or off-screen)."
	}},
	{"frame was detached", "FRAME_DETACHED", func(string) string {
		return "The iframe navigated away during the action."
	}},
	{"detached", "ELEMENT_DETACHED", func(string) string {
		return "Element was removed from the DOM (page content changed)."
	}},
	{"target closed", "TARGET_CLOSED", func(string) string {
		return "Browser tab or context was closed."
	}},
	{"net::err_", "NETWORK_ERROR", func(raw string) string {
		if m := netErrRe.FindStringSubmatch(raw); m != nil {
			return fmt.Sprintf("Network error: %s.", m[1])
		}
		return "Network error."
	}},
	{contextCut, "CONTEXT_DESTROYED", func(string) string {
		return "Page navigated during the action."
	}},
	{"429", "RATE_LIMITED", func(string) string {
		return "Site returned HTTP 429 (Too Many Requests). Slow down."
	}},
	{"captcha", "CAPTCHA_DETECTED", func(string) string {
		return "CAPTCHA detected on the page."
	}},
}

// Classify maps a raw browser runtime error onto the taxonomy by substring
// matching. Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return be
	}
	raw := err.Error()
	lower := strings.ToLower(raw)
	for _, p := range patterns {
		if strings.Contains(lower, p.substr) {
			return Wrap(p.code, p.msg(raw), err)
		}
	}
	return Wrap("UNKNOWN", "Browser error: "+raw, err)
}
