// Package compact gates history summarization for long sessions. It never
// calls a model itself: when both gates trip it hands the caller the
// messages to summarize, and the produced summary is fed back through
// InjectSummary.
package compact

import "fmt"

// Settings control when compaction triggers and what survives it.
type Settings struct {
	// StepCadence is the minimum number of steps between compactions.
	StepCadence int `json:"step_cadence"`
	// CharThreshold is the minimum accumulated observation size.
	CharThreshold int `json:"char_threshold"`
	// KeepLast messages are never summarized.
	KeepLast        int `json:"keep_last"`
	SummaryMaxChars int `json:"summary_max_chars"`
}

// DefaultSettings matches a cadence of ten steps and roughly 60KB of
// accumulated observations.
func DefaultSettings() Settings {
	return Settings{
		StepCadence:     10,
		CharThreshold:   60000,
		KeepLast:        4,
		SummaryMaxChars: 4000,
	}
}

// Message is one history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State tracks compaction across one session. Not safe for concurrent
// use; callers hold the session mutex.
type State struct {
	Settings        Settings
	StepCount       int
	TotalChars      int
	PreviousSummary string
	CompactionCount int
}

// NewState returns a State with the given settings, or defaults when zero.
func NewState(settings Settings) *State {
	if settings.StepCadence == 0 {
		settings = DefaultSettings()
	}
	return &State{Settings: settings}
}

// RecordStep notes one action+observation cycle of the given size.
func (s *State) RecordStep(chars int) {
	s.StepCount++
	s.TotalChars += chars
}

// ShouldCompact reports whether both gates are met.
func (s *State) ShouldCompact() bool {
	return s.StepCount >= s.Settings.StepCadence && s.TotalChars >= s.Settings.CharThreshold
}

// Request is the payload handed to the caller for summarization.
type Request struct {
	Action              string    `json:"action"`
	MessagesToSummarize []Message `json:"messages_to_summarize"`
	KeepMessages        []Message `json:"keep_messages"`
	PreviousSummary     string    `json:"previous_summary"`
	SummaryMaxChars     int       `json:"summary_max_chars"`
	CompactionNumber    int       `json:"compaction_number"`
}

// Prepare returns a compaction request when the gates are met and there is
// anything to summarize, nil otherwise.
func (s *State) Prepare(messages []Message) *Request {
	if !s.ShouldCompact() {
		return nil
	}
	if len(messages) <= s.Settings.KeepLast {
		return nil
	}
	cut := len(messages) - s.Settings.KeepLast
	return &Request{
		Action:              "compact_history",
		MessagesToSummarize: messages[:cut],
		KeepMessages:        messages[cut:],
		PreviousSummary:     s.PreviousSummary,
		SummaryMaxChars:     s.Settings.SummaryMaxChars,
		CompactionNumber:    s.CompactionCount + 1,
	}
}

// InjectSummary records the produced summary and returns the compacted
// history: one summary message followed by the kept messages. Counters
// reset so the next compaction measures only fresh steps.
func (s *State) InjectSummary(summary string, keep []Message) []Message {
	s.PreviousSummary = summary
	s.CompactionCount++
	s.StepCount = 0
	s.TotalChars = 0
	for _, m := range keep {
		s.TotalChars += len(m.Content)
	}

	out := make([]Message, 0, len(keep)+1)
	out = append(out, Message{
		Role:    "system",
		Content: fmt.Sprintf("[Session summary - compaction #%d]\n\n%s", s.CompactionCount, summary),
	})
	return append(out, keep...)
}
