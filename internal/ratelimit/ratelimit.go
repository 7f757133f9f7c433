// Package ratelimit provides a per-domain sliding-window action limiter.
// Domains are matched by substring against a policy table; the most
// specific matching pattern wins.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Window is the trailing period over which actions are counted.
const Window = 60 * time.Second

// DefaultPolicy is the per-minute quota table used when none is supplied.
// The "default" key is the fallback for unmatched domains. Social platforms
// get tighter budgets since they are the quickest to flag automation.
var DefaultPolicy = map[string]int{
	"default":       8,
	"linkedin.com":  4,
	"facebook.com":  5,
	"twitter.com":   6,
	"x.com":         6,
	"instagram.com": 4,
}

// Limiter tracks action timestamps per domain. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	policy map[string]int
	hits   map[string][]time.Time
	now    func() time.Time
}

// New creates a limiter with the given policy. A nil policy uses DefaultPolicy.
func New(policy map[string]int) *Limiter {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Limiter{
		policy: policy,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Limit returns the per-minute quota for a domain. Substring match,
// longest pattern wins, "default" as fallback.
func (l *Limiter) Limit(domain string) int {
	domain = strings.ToLower(domain)
	best := ""
	for pattern := range l.policy {
		if pattern == "default" {
			continue
		}
		if strings.Contains(domain, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return l.policy[best]
	}
	if d, ok := l.policy["default"]; ok {
		return d
	}
	return 8
}

// Check reports whether another action on the domain is currently allowed.
// It does not consume quota.
func (l *Limiter) Check(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(domain)) < l.Limit(domain)
}

// Record commits an action against the domain's window. Called only after
// the action succeeded, so failures do not consume quota.
func (l *Limiter) Record(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits[domain] = append(l.prune(domain), l.now())
}

// WaitTime returns how long until the oldest window entry expires and a
// new action becomes allowed, or zero if one is allowed now.
func (l *Limiter) WaitTime(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	window := l.prune(domain)
	if len(window) < l.Limit(domain) {
		return 0
	}
	wait := Window - l.now().Sub(window[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// prune drops entries older than the window. Caller holds the mutex.
func (l *Limiter) prune(domain string) []time.Time {
	cutoff := l.now().Add(-Window)
	window := l.hits[domain]
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		window = window[i:]
		l.hits[domain] = window
	}
	return window
}
