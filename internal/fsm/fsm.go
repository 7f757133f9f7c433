// Package fsm implements the agent state machine: eleven states with typed
// transitions, per-state deadlines, and epoch tracking for invalidating
// in-flight work.
package fsm

import (
	"sync"
	"time"

	"github.com/joestump/browserd/internal/errs"
)

// State names.
type StateName string

const (
	Idle        StateName = "IDLE"
	Launching   StateName = "LAUNCHING"
	Observing   StateName = "OBSERVING"
	Planning    StateName = "PLANNING"
	Acting      StateName = "ACTING"
	Evaluating  StateName = "EVALUATING"
	Escalating  StateName = "ESCALATING"
	Recovering  StateName = "RECOVERING"
	Done        StateName = "DONE"
	Error       StateName = "ERROR"
	TearingDown StateName = "TEARING_DOWN"
)

// State is a point-in-time snapshot of the machine.
type State struct {
	Name       StateName `json:"name"`
	SinceMs    int64     `json:"since_ms"`
	DeadlineMs int64     `json:"deadline_ms,omitempty"` // 0 means no deadline
	Epoch      int       `json:"epoch"`
}

// Listener receives (current, previous) on every state change.
type Listener func(current, previous State)

var validTransitions = map[StateName][]StateName{
	Idle:        {Launching},
	Launching:   {Observing, Error},
	Observing:   {Planning, Error},
	Planning:    {Acting, Done, Error},
	Acting:      {Evaluating, Error},
	Evaluating:  {Observing, Escalating, Done, Error},
	Escalating:  {Launching, Error},
	Recovering:  {Observing, Escalating, Error},
	Done:        {TearingDown, Idle},
	Error:       {Recovering, TearingDown, Idle},
	TearingDown: {Idle},
}

var abortable = map[StateName]bool{
	Observing:  true,
	Planning:   true,
	Acting:     true,
	Evaluating: true,
	Escalating: true,
	Recovering: true,
}

// Deadlines per state in milliseconds. States absent here have none.
var deadlines = map[StateName]int64{
	Launching:   60000,
	Observing:   30000,
	Acting:      30000,
	Recovering:  15000,
	TearingDown: 10000,
}

// IsValidTransition reports whether from→to is in the transition table.
func IsValidTransition(from, to StateName) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanAbort reports whether in-progress work in the given state may be cancelled.
func CanAbort(s StateName) bool {
	return abortable[s]
}

// Machine is the agent state machine. Safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
}

// New creates a machine in IDLE at epoch 0.
func New() *Machine {
	return &Machine{state: State{Name: Idle, SinceMs: nowMs()}}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Name returns the current state name.
func (m *Machine) Name() StateName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Name
}

// Epoch returns the current epoch.
func (m *Machine) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Epoch
}

// Subscribe registers a listener and returns an unsubscribe function.
func (m *Machine) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

// IsTerminal reports whether the machine is in DONE or ERROR.
func (m *Machine) IsTerminal() bool {
	n := m.Name()
	return n == Done || n == Error
}

// IsActive reports whether the machine is mid-task.
func (m *Machine) IsActive() bool {
	switch m.Name() {
	case Idle, Done, Error, TearingDown:
		return false
	}
	return true
}

// ElapsedMs returns milliseconds spent in the current state.
func (m *Machine) ElapsedMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return nowMs() - m.state.SinceMs
}

// DeadlineExceeded reports whether the current state outlived its deadline.
func (m *Machine) DeadlineExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.DeadlineMs == 0 {
		return false
	}
	return nowMs()-m.state.SinceMs > m.state.DeadlineMs
}

// Transition moves to the given state, validating against the table.
func (m *Machine) Transition(to StateName) error {
	m.mu.Lock()
	prev := m.state
	if !IsValidTransition(prev.Name, to) {
		m.mu.Unlock()
		return errs.Newf("INVALID_TRANSITION", "invalid transition: %s -> %s", prev.Name, to)
	}
	m.setState(to, prev.Epoch)
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
	return nil
}

// Force moves to the given state from any state. Used for ERROR,
// RECOVERING, and TEARING_DOWN entry.
func (m *Machine) Force(to StateName) {
	m.mu.Lock()
	prev := m.state
	m.setState(to, prev.Epoch)
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
}

// BumpEpoch increments the epoch without changing state. In-flight work
// holding a stale epoch must discard its result. The caller owns the bump:
// whoever aborts, escalates tier, or forces recovery calls this before
// forcing the new state. Returns the new epoch.
func (m *Machine) BumpEpoch() int {
	m.mu.Lock()
	prev := m.state
	m.state.Epoch++
	cur := m.state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, cur, prev)
	return cur.Epoch
}

func (m *Machine) setState(name StateName, epoch int) {
	m.state = State{
		Name:       name,
		SinceMs:    nowMs(),
		DeadlineMs: deadlines[name],
		Epoch:      epoch,
	}
}

func (m *Machine) snapshotListeners() []Listener {
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

// Listener panics are swallowed so a bad listener cannot corrupt the machine.
func notify(listeners []Listener, cur, prev State) {
	for _, l := range listeners {
		if l == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			l(cur, prev)
		}()
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
