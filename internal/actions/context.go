package actions

import (
	"fmt"

	"github.com/joestump/browserd/internal/errs"
	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/snapshot"
)

// Context carries per-dispatch session state into action handlers. The
// dispatcher builds one per action while holding the session lock, so
// handlers may read and mutate it freely.
type Context struct {
	Session *session.Session
	Manager *session.Manager
	RefMap  snapshot.RefMap

	Tier      int
	Humanize  bool
	Intensity float64

	EvaluateEnabled bool
	WebMCPEnabled   bool
}

func (c *Context) pages() []session.Page {
	if c.Session == nil {
		return nil
	}
	h := c.Session.Handle()
	if h == nil {
		return nil
	}
	return h.Pages()
}

// fail builds a failed result with a plain error string.
func fail(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func failf(format string, args ...any) map[string]any {
	return fail(fmt.Sprintf(format, args...))
}

// failErr classifies a raw browser error onto the taxonomy.
func failErr(err error) map[string]any {
	return failFrom(errs.Classify(err))
}

func failFrom(e *errs.Error) map[string]any {
	return map[string]any{
		"success": false,
		"error":   e.AgentMessage(),
		"code":    e.Code,
	}
}

// Params arrive from a decoded JSON body, so numbers are float64.

func strParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func hasParam(params map[string]any, key string) bool {
	_, ok := params[key]
	return ok
}
