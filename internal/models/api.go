package models

import (
	"time"

	"github.com/google/uuid"
)

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SessionEvent is pushed to the owner's realtime channel after every
// successful session mutation.
type SessionEvent struct {
	SessionID    uuid.UUID     `json:"session_id"`
	Status       SessionStatus `json:"status,omitempty"`
	CurrentIndex *int          `json:"current_index,omitempty"`
	QuestionID   *uuid.UUID    `json:"question_id,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

func SessionEventChannel(userID uuid.UUID) string {
	return "exam_session_events:" + userID.String()
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
