package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseIndex(t *testing.T) {
	tests := []struct {
		raw  string
		want *int
	}{
		{"", nil},
		{"null", nil},
		{"0", intPtr(0)},
		{"12", intPtr(12)},
		{"3.0", intPtr(3)},
		{"2.5", nil},
		{"-1", nil},
		{"1e12", nil},
		{`"4"`, nil},
		{"true", nil},
		{"[1]", nil},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got := ParseIndex(json.RawMessage(tc.raw))
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("expected no index, got %d", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("expected %d, got no index", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("expected %d, got %d", *tc.want, *got)
			}
		})
	}
}

func TestIndexUpdate_DecodesLeniently(t *testing.T) {
	var u IndexUpdate
	if err := json.Unmarshal([]byte(`{"current_index":"NaN"}`), &u); err != nil {
		t.Fatalf("body should decode, got %v", err)
	}
	if u.Index() != nil {
		t.Fatalf("expected no index, got %d", *u.Index())
	}
}

func TestSessionMode(t *testing.T) {
	for _, m := range []SessionMode{ModePractice, ModeReview, ModeExam} {
		if !m.Valid() {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if SessionMode("drill").Valid() {
		t.Error("unexpected mode accepted")
	}
	if !ModePractice.Pausable() || ModeReview.Pausable() || ModeExam.Pausable() {
		t.Error("only practice sessions are pausable")
	}
}

func TestExamSession_Helpers(t *testing.T) {
	member := uuid.New()
	s := &ExamSession{Status: StatusPaused, QuestionIDs: []uuid.UUID{member}}

	if !s.HasQuestion(member) || s.HasQuestion(uuid.New()) {
		t.Error("membership check is wrong")
	}
	if s.IsFinished() {
		t.Error("paused session reported as finished")
	}

	now := time.Now()
	s.FinishedAt = &now
	if !s.IsFinished() {
		t.Error("finished_at should make the session terminal")
	}
}

func TestSessionEventChannel(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-3c1b-4e0a-9f55-0d7f3e0a1b2c")
	if got := SessionEventChannel(id); got != "exam_session_events:6f1c2a9e-3c1b-4e0a-9f55-0d7f3e0a1b2c" {
		t.Fatalf("unexpected channel %q", got)
	}
}

func intPtr(v int) *int { return &v }
