package services

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examprep-backend/internal/models"
	"examprep-backend/internal/repository"
)

const maxNoteLength = 5000

// ExamSessionStore is the persistence contract for sessions. Mutations are
// conditional on (id, user_id) and report repository.ErrConditionFailed when
// nothing matched; reads report repository.ErrNotFound.
type ExamSessionStore interface {
	Create(ctx context.Context, s *models.ExamSession, maxQuestions *int) error
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.ExamSession, error)
	Pause(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) error
	Resume(ctx context.Context, id, userID uuid.UUID, now time.Time) error
	Finish(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) (time.Time, error)
	SetProgress(ctx context.Context, id, userID uuid.UUID, index int, now time.Time) error
	ToggleFlag(ctx context.Context, id, userID, questionID uuid.UUID, now time.Time) ([]uuid.UUID, error)
	UpsertNote(ctx context.Context, userID uuid.UUID, n *models.ExamSessionNote) error
	DeleteNote(ctx context.Context, id, userID, questionID uuid.UUID) error
	ListNotes(ctx context.Context, id, userID uuid.UUID) ([]*models.ExamSessionNote, error)
}

type ExamSessionService struct {
	store  ExamSessionStore
	events EventPublisher
	log    *zap.Logger
	now    func() time.Time
}

func NewExamSessionService(store ExamSessionStore, events EventPublisher, logger *zap.Logger) *ExamSessionService {
	if events == nil {
		events = NopEventPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamSessionService{
		store:  store,
		events: events,
		log:    logger.Named("exam_sessions"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateReviewSession starts a review-mode session over the topic's questions.
func (s *ExamSessionService) CreateReviewSession(ctx context.Context, userID uuid.UUID, req models.CreateReviewSessionRequest) (uuid.UUID, error) {
	return s.CreateSession(ctx, userID, models.CreateSessionRequest{
		Mode:         string(models.ModeReview),
		TopicID:      req.TopicID,
		TopicName:    req.TopicName,
		CourseID:     req.CourseID,
		UniversityID: req.UniversityID,
	})
}

func (s *ExamSessionService) CreateSession(ctx context.Context, userID uuid.UUID, req models.CreateSessionRequest) (uuid.UUID, error) {
	if err := requireCaller(userID); err != nil {
		return uuid.Nil, err
	}

	fieldErrors := make(map[string]string)

	mode := models.SessionMode(req.Mode)
	if !mode.Valid() {
		fieldErrors["mode"] = "Mode must be practice, review, or exam"
	}
	topicID, err := uuid.Parse(req.TopicID)
	if err != nil {
		fieldErrors["topic_id"] = "Invalid topic_id"
	}
	topicName := strings.TrimSpace(req.TopicName)
	if topicName == "" {
		fieldErrors["topic_name"] = "Topic name is required"
	}
	courseID, ok := parseOptionalID(req.CourseID)
	if !ok {
		fieldErrors["course_id"] = "Invalid course_id"
	}
	universityID, ok := parseOptionalID(req.UniversityID)
	if !ok {
		fieldErrors["university_id"] = "Invalid university_id"
	}
	if req.MaxQuestions != nil && *req.MaxQuestions <= 0 {
		fieldErrors["max_questions"] = "max_questions must be positive"
	}

	if len(fieldErrors) > 0 {
		return uuid.Nil, &ValidationError{Fields: fieldErrors}
	}

	session := &models.ExamSession{
		UserID:       userID,
		Mode:         mode,
		TopicID:      topicID,
		TopicName:    topicName,
		CourseID:     courseID,
		UniversityID: universityID,
	}

	if err := s.store.Create(ctx, session, req.MaxQuestions); err != nil {
		if errors.Is(err, repository.ErrEmptyTopic) {
			return uuid.Nil, &ValidationError{Fields: map[string]string{"topic_id": "Topic has no questions"}}
		}
		return uuid.Nil, s.storeFailure("create", err)
	}

	s.log.Info("exam session created",
		zap.Stringer("session_id", session.ID),
		zap.Stringer("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Int("questions", len(session.QuestionIDs)),
	)
	s.publish(ctx, userID, EventSessionCreated, models.SessionEvent{
		SessionID: session.ID,
		Status:    models.StatusInProgress,
	})

	return session.ID, nil
}

func (s *ExamSessionService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ExamSession, error) {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return nil, err
	}
	return s.load(ctx, userID, sessionID)
}

func (s *ExamSessionService) Pause(ctx context.Context, userID, sessionID uuid.UUID, index *int) error {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return err
	}
	index = validIndex(index)

	if err := s.store.Pause(ctx, sessionID, userID, index, s.now()); err != nil {
		return s.explain(ctx, "pause", userID, sessionID, err, pausable("paused"))
	}

	s.publish(ctx, userID, EventSessionPaused, models.SessionEvent{
		SessionID:    sessionID,
		Status:       models.StatusPaused,
		CurrentIndex: index,
	})
	return nil
}

func (s *ExamSessionService) Resume(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return err
	}

	if err := s.store.Resume(ctx, sessionID, userID, s.now()); err != nil {
		return s.explain(ctx, "resume", userID, sessionID, err, pausable("resumed"))
	}

	s.publish(ctx, userID, EventSessionResumed, models.SessionEvent{
		SessionID: sessionID,
		Status:    models.StatusInProgress,
	})
	return nil
}

// Finish is always legal for the owner and may be repeated; each call
// rewrites finished_at.
func (s *ExamSessionService) Finish(ctx context.Context, userID, sessionID uuid.UUID, index *int) (time.Time, error) {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return time.Time{}, err
	}
	index = validIndex(index)

	finishedAt, err := s.store.Finish(ctx, sessionID, userID, index, s.now())
	if err != nil {
		return time.Time{}, s.explain(ctx, "finish", userID, sessionID, err, nil)
	}

	s.log.Info("exam session finished", zap.Stringer("session_id", sessionID), zap.Time("finished_at", finishedAt))
	s.publish(ctx, userID, EventSessionFinished, models.SessionEvent{
		SessionID:    sessionID,
		Status:       models.StatusFinished,
		CurrentIndex: index,
	})
	return finishedAt, nil
}

// ReportProgress records the last viewed index. A missing or unusable index
// is a successful no-op, but the session must still exist, be owned by the
// caller and not be finished.
func (s *ExamSessionService) ReportProgress(ctx context.Context, userID, sessionID uuid.UUID, index *int) error {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return err
	}
	index = validIndex(index)

	if index == nil {
		session, err := s.load(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		return writable(session)
	}

	if err := s.store.SetProgress(ctx, sessionID, userID, *index, s.now()); err != nil {
		return s.explain(ctx, "progress", userID, sessionID, err, writable)
	}

	s.publish(ctx, userID, EventProgress, models.SessionEvent{
		SessionID:    sessionID,
		CurrentIndex: index,
	})
	return nil
}

// ToggleFlag flips the flag on questionID and returns the resulting set,
// sorted for stable output.
func (s *ExamSessionService) ToggleFlag(ctx context.Context, userID, sessionID, questionID uuid.UUID) ([]uuid.UUID, error) {
	if err := requireIDs(userID, sessionID, &questionID); err != nil {
		return nil, err
	}

	flagged, err := s.store.ToggleFlag(ctx, sessionID, userID, questionID, s.now())
	if err != nil {
		return nil, s.explain(ctx, "toggle_flag", userID, sessionID, err, targets(questionID))
	}

	sort.Slice(flagged, func(i, j int) bool {
		return bytes.Compare(flagged[i][:], flagged[j][:]) < 0
	})

	s.publish(ctx, userID, EventFlagToggled, models.SessionEvent{
		SessionID:  sessionID,
		QuestionID: &questionID,
	})
	return flagged, nil
}

// UpsertOrDeleteNote stores the trimmed text for (session, question), or
// removes the note when the trimmed text is empty.
func (s *ExamSessionService) UpsertOrDeleteNote(ctx context.Context, userID, sessionID, questionID uuid.UUID, text string) (*models.NoteResult, error) {
	if err := requireIDs(userID, sessionID, &questionID); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxNoteLength {
		return nil, &ValidationError{Fields: map[string]string{"text": "Note must be at most 5000 characters"}}
	}

	if text == "" {
		if err := s.store.DeleteNote(ctx, sessionID, userID, questionID); err != nil {
			return nil, s.explain(ctx, "delete_note", userID, sessionID, err, targets(questionID))
		}
		s.publish(ctx, userID, EventNoteRemoved, models.SessionEvent{
			SessionID:  sessionID,
			QuestionID: &questionID,
		})
		return &models.NoteResult{Removed: true}, nil
	}

	note := &models.ExamSessionNote{
		SessionID:  sessionID,
		QuestionID: questionID,
		Text:       text,
		UpdatedAt:  s.now(),
	}
	if err := s.store.UpsertNote(ctx, userID, note); err != nil {
		return nil, s.explain(ctx, "upsert_note", userID, sessionID, err, targets(questionID))
	}

	s.publish(ctx, userID, EventNoteSaved, models.SessionEvent{
		SessionID:  sessionID,
		QuestionID: &questionID,
	})
	return &models.NoteResult{Note: note}, nil
}

func (s *ExamSessionService) ListNotes(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.ExamSessionNote, error) {
	if err := requireIDs(userID, sessionID, nil); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	notes, err := s.store.ListNotes(ctx, sessionID, userID)
	if err != nil {
		return nil, s.storeFailure("list_notes", err)
	}
	return notes, nil
}

func (s *ExamSessionService) load(ctx context.Context, userID, sessionID uuid.UUID) (*models.ExamSession, error) {
	session, err := s.store.GetByIDForUser(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, s.storeFailure("get", err)
	}
	return session, nil
}

// explain turns a failed conditional write into a typed error. The session is
// re-read (still owner-scoped) only to pick the error kind; nothing is written.
func (s *ExamSessionService) explain(ctx context.Context, op string, userID, sessionID uuid.UUID, err error, check func(*models.ExamSession) error) error {
	if !errors.Is(err, repository.ErrConditionFailed) {
		return s.storeFailure(op, err)
	}

	session, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(session); err != nil {
			return err
		}
	}

	s.log.Warn("conditional write lost a race", zap.String("op", op), zap.Stringer("session_id", sessionID))
	return &InvalidStateError{Message: "Session changed while the request was processed; retry"}
}

func (s *ExamSessionService) storeFailure(op string, err error) error {
	s.log.Error("session store call failed", zap.String("op", op), zap.Error(err))
	return &StoreError{Err: err}
}

func (s *ExamSessionService) publish(ctx context.Context, userID uuid.UUID, eventType string, ev models.SessionEvent) {
	ev.OccurredAt = s.now()
	err := s.events.PublishUpdate(ctx, userID, models.WSMessage{Type: eventType, Payload: ev})
	if err != nil {
		s.log.Warn("failed to publish session event",
			zap.String("event", eventType),
			zap.Stringer("session_id", ev.SessionID),
			zap.Error(err),
		)
	}
}

func pausable(verb string) func(*models.ExamSession) error {
	return func(session *models.ExamSession) error {
		if !session.Mode.Pausable() {
			return &InvalidStateError{Message: "Only practice sessions can be " + verb}
		}
		return writable(session)
	}
}

func writable(session *models.ExamSession) error {
	if session.IsFinished() {
		return &InvalidStateError{Message: "Session is already finished"}
	}
	return nil
}

// targets checks membership before the terminal state so that a foreign
// question is always reported as an invalid target.
func targets(questionID uuid.UUID) func(*models.ExamSession) error {
	return func(session *models.ExamSession) error {
		if !session.HasQuestion(questionID) {
			return &InvalidTargetError{Message: "Question is not part of this session"}
		}
		return writable(session)
	}
}

func requireCaller(userID uuid.UUID) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: "Authentication required"}
	}
	return nil
}

func requireIDs(userID, sessionID uuid.UUID, questionID *uuid.UUID) error {
	if err := requireCaller(userID); err != nil {
		return err
	}
	fieldErrors := make(map[string]string)
	if sessionID == uuid.Nil {
		fieldErrors["session_id"] = "Session ID is required"
	}
	if questionID != nil && *questionID == uuid.Nil {
		fieldErrors["question_id"] = "Question ID is required"
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

func sessionNotFound() error {
	return &NotFoundError{Message: "Session not found"}
}

func validIndex(index *int) *int {
	if index == nil || *index < 0 {
		return nil
	}
	return index
}

func parseOptionalID(raw *string) (*uuid.UUID, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, true
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, false
	}
	return &id, true
}
