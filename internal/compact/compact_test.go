package compact

import (
	"strings"
	"testing"
)

func TestShouldCompactNeedsBothGates(t *testing.T) {
	s := NewState(Settings{StepCadence: 3, CharThreshold: 100, KeepLast: 2, SummaryMaxChars: 500})

	s.RecordStep(200)
	if s.ShouldCompact() {
		t.Error("char gate alone should not trigger")
	}
	s.RecordStep(10)
	s.RecordStep(10)
	if !s.ShouldCompact() {
		t.Error("both gates met, should trigger")
	}
}

func TestPrepareSplitsHistory(t *testing.T) {
	s := NewState(Settings{StepCadence: 1, CharThreshold: 1, KeepLast: 2, SummaryMaxChars: 500})
	s.RecordStep(100)

	messages := []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
		{Role: "user", Content: "e"},
	}
	req := s.Prepare(messages)
	if req == nil {
		t.Fatal("expected a compaction request")
	}
	if len(req.MessagesToSummarize) != 3 || len(req.KeepMessages) != 2 {
		t.Errorf("split = %d/%d, want 3/2", len(req.MessagesToSummarize), len(req.KeepMessages))
	}
	if req.KeepMessages[0].Content != "d" || req.KeepMessages[1].Content != "e" {
		t.Errorf("kept wrong tail: %+v", req.KeepMessages)
	}
	if req.CompactionNumber != 1 {
		t.Errorf("compaction number = %d, want 1", req.CompactionNumber)
	}
}

func TestPrepareTooFewMessages(t *testing.T) {
	s := NewState(Settings{StepCadence: 1, CharThreshold: 1, KeepLast: 4, SummaryMaxChars: 500})
	s.RecordStep(100)
	if req := s.Prepare([]Message{{Content: "a"}, {Content: "b"}}); req != nil {
		t.Errorf("expected nil for short history, got %+v", req)
	}
}

func TestInjectSummaryResetsCounters(t *testing.T) {
	s := NewState(Settings{StepCadence: 1, CharThreshold: 1, KeepLast: 2, SummaryMaxChars: 500})
	s.RecordStep(5000)

	keep := []Message{{Role: "user", Content: "recent"}, {Role: "assistant", Content: "reply"}}
	history := s.InjectSummary("the session visited three pages", keep)

	if len(history) != 3 {
		t.Fatalf("history = %d messages, want 3", len(history))
	}
	if history[0].Role != "system" || !strings.Contains(history[0].Content, "compaction #1") {
		t.Errorf("summary message = %+v", history[0])
	}
	if s.StepCount != 0 {
		t.Errorf("step count = %d, want 0", s.StepCount)
	}
	if s.TotalChars != len("recent")+len("reply") {
		t.Errorf("total chars = %d", s.TotalChars)
	}
	if s.PreviousSummary == "" || s.CompactionCount != 1 {
		t.Errorf("state = %+v", s)
	}
}
