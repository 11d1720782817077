package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"examprep-backend/internal/middleware"
	"examprep-backend/internal/models"
)

type ExamSessionHandler struct {
	sessions examSessionService
}

type examSessionService interface {
	CreateReviewSession(ctx context.Context, userID uuid.UUID, req models.CreateReviewSessionRequest) (uuid.UUID, error)
	CreateSession(ctx context.Context, userID uuid.UUID, req models.CreateSessionRequest) (uuid.UUID, error)
	Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ExamSession, error)
	Pause(ctx context.Context, userID, sessionID uuid.UUID, index *int) error
	Resume(ctx context.Context, userID, sessionID uuid.UUID) error
	Finish(ctx context.Context, userID, sessionID uuid.UUID, index *int) (time.Time, error)
	ReportProgress(ctx context.Context, userID, sessionID uuid.UUID, index *int) error
	ToggleFlag(ctx context.Context, userID, sessionID, questionID uuid.UUID) ([]uuid.UUID, error)
	UpsertOrDeleteNote(ctx context.Context, userID, sessionID, questionID uuid.UUID, text string) (*models.NoteResult, error)
	ListNotes(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.ExamSessionNote, error)
}

func NewExamSessionHandler(sessions examSessionService) *ExamSessionHandler {
	return &ExamSessionHandler{sessions: sessions}
}

func (h *ExamSessionHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReviewSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	sessionID, err := h.sessions.CreateReviewSession(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"session_id": sessionID})
}

func (h *ExamSessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	sessionID, err := h.sessions.CreateSession(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"session_id": sessionID})
}

func (h *ExamSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), middleware.GetUserID(r.Context()), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *ExamSessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req models.IndexUpdate
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.sessions.Pause(r.Context(), middleware.GetUserID(r.Context()), sessionID, req.Index()); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ExamSessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Resume(r.Context(), middleware.GetUserID(r.Context()), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ExamSessionHandler) Finish(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req models.IndexUpdate
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	finishedAt, err := h.sessions.Finish(r.Context(), middleware.GetUserID(r.Context()), sessionID, req.Index())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"finished_at": finishedAt,
	})
}

// Progress never fails on a bad index; it only fails for sessions the caller
// cannot write to.
func (h *ExamSessionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req models.IndexUpdate
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.sessions.ReportProgress(r.Context(), middleware.GetUserID(r.Context()), sessionID, req.Index()); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ExamSessionHandler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req models.ToggleFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	questionID, ok := questionIDField(w, r, req.QuestionID)
	if !ok {
		return
	}

	flagged, err := h.sessions.ToggleFlag(r.Context(), middleware.GetUserID(r.Context()), sessionID, questionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"flagged_question_ids": flagged})
}

func (h *ExamSessionHandler) UpsertNote(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req models.UpsertNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	questionID, ok := questionIDField(w, r, req.QuestionID)
	if !ok {
		return
	}

	result, err := h.sessions.UpsertOrDeleteNote(r.Context(), middleware.GetUserID(r.Context()), sessionID, questionID, req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if result.Removed {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "removed": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "note": result.Note})
}

func (h *ExamSessionHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	notes, err := h.sessions.ListNotes(r.Context(), middleware.GetUserID(r.Context()), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": notes})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return uuid.Nil, false
	}
	return sessionID, true
}

// questionIDField leaves a missing id as uuid.Nil for the service to reject.
func questionIDField(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	questionID, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid question ID", r))
		return uuid.Nil, false
	}
	return questionID, true
}
