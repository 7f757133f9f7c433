// Package loopdetect spots agents repeating the same action against the
// same page. It keeps a rolling window of (action hash, page fingerprint)
// records and emits escalating warnings when a pattern stagnates.
package loopdetect

import "fmt"

const (
	// DefaultWindowSize bounds the rolling record window.
	DefaultWindowSize = 10
	// DefaultThreshold is the repeat count that triggers the first warning.
	DefaultThreshold = 3
	// sameThreshold is the fingerprint similarity above which two records
	// are considered to target the same page.
	sameThreshold = 0.8
)

type record struct {
	hash        string
	fingerprint Fingerprint
	hasFP       bool
}

// Detector tracks recent actions for one session. Not safe for concurrent
// use; callers hold the session mutex.
type Detector struct {
	window    []record
	size      int
	threshold int
}

// New creates a detector with default window size and threshold.
func New() *Detector {
	return &Detector{size: DefaultWindowSize, threshold: DefaultThreshold}
}

// NewWithLimits creates a detector with explicit window size and threshold.
func NewWithLimits(size, threshold int) *Detector {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{size: size, threshold: threshold}
}

// Record adds an action to the window and returns a warning message when
// the same action keeps hitting the same page, or "" otherwise. Severity
// escalates with the repeat count.
func (d *Detector) Record(verb string, params map[string]any, fp *Fingerprint) string {
	rec := record{hash: ActionHash(verb, params)}
	if fp != nil {
		rec.fingerprint = *fp
		rec.hasFP = true
	}

	d.window = append(d.window, rec)
	if len(d.window) > d.size {
		d.window = d.window[len(d.window)-d.size:]
	}

	count := 0
	for _, r := range d.window {
		if r.hash != rec.hash {
			continue
		}
		if rec.hasFP && r.hasFP {
			if rec.fingerprint.Similarity(r.fingerprint) < sameThreshold {
				continue
			}
		}
		count++
	}

	if count < d.threshold {
		return ""
	}

	over := count - d.threshold
	switch {
	case over >= 4:
		return fmt.Sprintf(
			"CRITICAL: action repeated %d times with no page change. You are in an infinite loop. Call done now with whatever you have.",
			count)
	case over >= 2:
		return fmt.Sprintf(
			"STUCK: action repeated %d times on the same page. Try a different URL, interact with different elements, or report partial results.",
			count)
	default:
		return fmt.Sprintf(
			"Warning: action repeated %d times on the same page. Try a different approach.",
			count)
	}
}

// Reset clears the window. The dispatcher calls this on cross-domain
// navigation since a new site is a new situation.
func (d *Detector) Reset() {
	d.window = d.window[:0]
}

// Len returns the current window occupancy.
func (d *Detector) Len() int {
	return len(d.window)
}
