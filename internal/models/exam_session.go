package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

type SessionMode string

const (
	ModePractice SessionMode = "practice"
	ModeReview   SessionMode = "review"
	ModeExam     SessionMode = "exam"
)

func (m SessionMode) Valid() bool {
	switch m {
	case ModePractice, ModeReview, ModeExam:
		return true
	}
	return false
}

// Pausable reports whether sessions of this mode may be paused and resumed.
func (m SessionMode) Pausable() bool {
	return m == ModePractice
}

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusFinished   SessionStatus = "finished"
)

type ExamSession struct {
	ID                 uuid.UUID     `json:"id"`
	UserID             uuid.UUID     `json:"user_id"`
	Mode               SessionMode   `json:"mode"`
	Status             SessionStatus `json:"status"`
	TopicID            uuid.UUID     `json:"topic_id"`
	TopicName          string        `json:"topic_name"`
	CourseID           *uuid.UUID    `json:"course_id"`
	UniversityID       *uuid.UUID    `json:"university_id"`
	CurrentIndex       int           `json:"current_index"`
	QuestionIDs        []uuid.UUID   `json:"question_ids"`
	FlaggedQuestionIDs []uuid.UUID   `json:"flagged_question_ids"`
	PausedAt           *time.Time    `json:"paused_at"`
	FinishedAt         *time.Time    `json:"finished_at"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// IsFinished reports whether the session reached its terminal state.
func (s *ExamSession) IsFinished() bool {
	return s.FinishedAt != nil || s.Status == StatusFinished
}

func (s *ExamSession) HasQuestion(questionID uuid.UUID) bool {
	for _, id := range s.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

type ExamSessionNote struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NoteResult is the outcome of a note write: either the stored note or a removal.
type NoteResult struct {
	Note    *ExamSessionNote `json:"note,omitempty"`
	Removed bool             `json:"removed,omitempty"`
}

type CreateReviewSessionRequest struct {
	TopicID      string  `json:"topic_id"`
	TopicName    string  `json:"topic_name"`
	CourseID     *string `json:"course_id"`
	UniversityID *string `json:"university_id"`
}

type CreateSessionRequest struct {
	Mode         string  `json:"mode"`
	TopicID      string  `json:"topic_id"`
	TopicName    string  `json:"topic_name"`
	CourseID     *string `json:"course_id"`
	UniversityID *string `json:"university_id"`
	MaxQuestions *int    `json:"max_questions"`
}

// IndexUpdate carries an optional current_index. The raw value is kept so
// that malformed input degrades to "no index" instead of a decode failure.
type IndexUpdate struct {
	CurrentIndex json.RawMessage `json:"current_index"`
}

// Index returns the supplied index when it is a finite, non-negative integer.
func (u IndexUpdate) Index() *int {
	return ParseIndex(u.CurrentIndex)
}

func ParseIndex(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return nil
	}
	idx := int(f)
	return &idx
}

type ToggleFlagRequest struct {
	QuestionID string `json:"question_id"`
}

type UpsertNoteRequest struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}
