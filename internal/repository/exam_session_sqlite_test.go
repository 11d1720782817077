package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"examprep-backend/internal/database"
	"examprep-backend/internal/models"
)

type sqliteFixture struct {
	repo      *ExamSessionSQLiteRepo
	topicID   uuid.UUID
	questions []uuid.UUID
	userID    uuid.UUID
}

func newSQLiteFixture(t *testing.T, questionCount int) *sqliteFixture {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	topicID := uuid.New()
	questions, err := database.SeedQuestions(context.Background(), db, topicID, questionCount)
	require.NoError(t, err)

	return &sqliteFixture{
		repo:      NewExamSessionSQLiteRepo(db),
		topicID:   topicID,
		questions: questions,
		userID:    uuid.New(),
	}
}

func (f *sqliteFixture) create(t *testing.T, mode models.SessionMode) *models.ExamSession {
	t.Helper()
	s := &models.ExamSession{
		UserID:    f.userID,
		Mode:      mode,
		TopicID:   f.topicID,
		TopicName: "Anatomy",
	}
	require.NoError(t, f.repo.Create(context.Background(), s, nil))
	return s
}

func TestSQLiteCreate_CopiesMembershipInOrder(t *testing.T) {
	f := newSQLiteFixture(t, 4)
	ctx := context.Background()
	courseID := uuid.New()

	s := &models.ExamSession{
		UserID:    f.userID,
		Mode:      models.ModeReview,
		TopicID:   f.topicID,
		TopicName: "Anatomy",
		CourseID:  &courseID,
	}
	require.NoError(t, f.repo.Create(ctx, s, nil))
	assert.NotEqual(t, uuid.Nil, s.ID)

	got, err := f.repo.GetByIDForUser(ctx, s.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeReview, got.Mode)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, 0, got.CurrentIndex)
	assert.Equal(t, f.questions, got.QuestionIDs)
	assert.Empty(t, got.FlaggedQuestionIDs)
	require.NotNil(t, got.CourseID)
	assert.Equal(t, courseID, *got.CourseID)
	assert.Nil(t, got.UniversityID)
	assert.Nil(t, got.PausedAt)
	assert.Nil(t, got.FinishedAt)
}

func TestSQLiteCreate_LimitsQuestions(t *testing.T) {
	f := newSQLiteFixture(t, 5)
	limit := 2

	s := &models.ExamSession{UserID: f.userID, Mode: models.ModeExam, TopicID: f.topicID, TopicName: "Anatomy"}
	require.NoError(t, f.repo.Create(context.Background(), s, &limit))

	assert.Equal(t, f.questions[:2], s.QuestionIDs)
}

func TestSQLiteCreate_EmptyTopicWritesNothing(t *testing.T) {
	f := newSQLiteFixture(t, 1)
	s := &models.ExamSession{UserID: f.userID, Mode: models.ModeReview, TopicID: uuid.New(), TopicName: "Empty"}

	err := f.repo.Create(context.Background(), s, nil)
	assert.ErrorIs(t, err, ErrEmptyTopic)
	assert.Equal(t, uuid.Nil, s.ID)
}

func TestSQLiteGet_IsOwnerScoped(t *testing.T) {
	f := newSQLiteFixture(t, 2)
	s := f.create(t, models.ModePractice)

	_, err := f.repo.GetByIDForUser(context.Background(), s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.repo.GetByIDForUser(context.Background(), uuid.New(), f.userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLitePauseResume(t *testing.T) {
	f := newSQLiteFixture(t, 3)
	ctx := context.Background()
	s := f.create(t, models.ModePractice)
	now := time.Now().UTC()
	idx := 2

	require.NoError(t, f.repo.Pause(ctx, s.ID, f.userID, &idx, now))
	got, err := f.repo.GetByIDForUser(ctx, s.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Equal(t, 2, got.CurrentIndex)
	require.NotNil(t, got.PausedAt)
	assert.True(t, now.Equal(*got.PausedAt))

	// A nil index keeps the stored one.
	require.NoError(t, f.repo.Pause(ctx, s.ID, f.userID, nil, now))
	require.NoError(t, f.repo.Resume(ctx, s.ID, f.userID, now))
	got, err = f.repo.GetByIDForUser(ctx, s.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, 2, got.CurrentIndex)
	assert.Nil(t, got.PausedAt)
}

func TestSQLitePause_ConditionFailures(t *testing.T) {
	f := newSQLiteFixture(t, 2)
	ctx := context.Background()
	now := time.Now().UTC()

	review := f.create(t, models.ModeReview)
	assert.ErrorIs(t, f.repo.Pause(ctx, review.ID, f.userID, nil, now), ErrConditionFailed)
	assert.ErrorIs(t, f.repo.Resume(ctx, review.ID, f.userID, now), ErrConditionFailed)

	practice := f.create(t, models.ModePractice)
	assert.ErrorIs(t, f.repo.Pause(ctx, practice.ID, uuid.New(), nil, now), ErrConditionFailed)

	_, err := f.repo.Finish(ctx, practice.ID, f.userID, nil, now)
	require.NoError(t, err)
	assert.ErrorIs(t, f.repo.Pause(ctx, practice.ID, f.userID, nil, now), ErrConditionFailed)
	assert.ErrorIs(t, f.repo.Resume(ctx, practice.ID, f.userID, now), ErrConditionFailed)
}

func TestSQLiteFinish_IsRepeatableAndTerminal(t *testing.T) {
	f := newSQLiteFixture(t, 3)
	ctx := context.Background()
	s := f.create(t, models.ModePractice)

	first := time.Now().UTC()
	require.NoError(t, f.repo.Pause(ctx, s.ID, f.userID, nil, first))

	finishedAt, err := f.repo.Finish(ctx, s.ID, f.userID, nil, first)
	require.NoError(t, err)
	assert.True(t, first.Equal(finishedAt))

	second := first.Add(time.Second)
	finishedAt, err = f.repo.Finish(ctx, s.ID, f.userID, nil, second)
	require.NoError(t, err)
	assert.True(t, second.Equal(finishedAt))

	got, err := f.repo.GetByIDForUser(ctx, s.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, got.Status)
	assert.Nil(t, got.PausedAt)

	assert.ErrorIs(t, f.repo.SetProgress(ctx, s.ID, f.userID, 1, second), ErrConditionFailed)

	_, err = f.repo.Finish(ctx, s.ID, uuid.New(), nil, second)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestSQLiteToggleFlag(t *testing.T) {
	f := newSQLiteFixture(t, 3)
	ctx := context.Background()
	s := f.create(t, models.ModeReview)
	now := time.Now().UTC()

	flagged, err := f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[1], now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.questions[1]}, flagged)

	flagged, err = f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[0], now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.questions[0], f.questions[1]}, flagged)

	flagged, err = f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[1], now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.questions[0]}, flagged)

	flagged, err = f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[0], now)
	require.NoError(t, err)
	assert.Empty(t, flagged)

	_, err = f.repo.ToggleFlag(ctx, s.ID, f.userID, uuid.New(), now)
	assert.ErrorIs(t, err, ErrConditionFailed)

	_, err = f.repo.ToggleFlag(ctx, s.ID, uuid.New(), f.questions[0], now)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestSQLiteNotes(t *testing.T) {
	f := newSQLiteFixture(t, 3)
	ctx := context.Background()
	s := f.create(t, models.ModePractice)
	now := time.Now().UTC()

	later := &models.ExamSessionNote{SessionID: s.ID, QuestionID: f.questions[2], Text: "last", UpdatedAt: now}
	require.NoError(t, f.repo.UpsertNote(ctx, f.userID, later))

	note := &models.ExamSessionNote{SessionID: s.ID, QuestionID: f.questions[0], Text: "first", UpdatedAt: now}
	require.NoError(t, f.repo.UpsertNote(ctx, f.userID, note))

	edited := &models.ExamSessionNote{SessionID: s.ID, QuestionID: f.questions[0], Text: "first, edited", UpdatedAt: now.Add(time.Minute)}
	require.NoError(t, f.repo.UpsertNote(ctx, f.userID, edited))

	notes, err := f.repo.ListNotes(ctx, s.ID, f.userID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, f.questions[0], notes[0].QuestionID)
	assert.Equal(t, "first, edited", notes[0].Text)
	assert.True(t, now.Add(time.Minute).Equal(notes[0].UpdatedAt))
	assert.Equal(t, f.questions[2], notes[1].QuestionID)

	require.NoError(t, f.repo.DeleteNote(ctx, s.ID, f.userID, f.questions[0]))
	// Deleting an absent note still succeeds.
	require.NoError(t, f.repo.DeleteNote(ctx, s.ID, f.userID, f.questions[0]))

	notes, err = f.repo.ListNotes(ctx, s.ID, f.userID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "last", notes[0].Text)

	foreign := &models.ExamSessionNote{SessionID: s.ID, QuestionID: uuid.New(), Text: "nope", UpdatedAt: now}
	assert.ErrorIs(t, f.repo.UpsertNote(ctx, f.userID, foreign), ErrConditionFailed)
	assert.ErrorIs(t, f.repo.DeleteNote(ctx, s.ID, uuid.New(), f.questions[2]), ErrConditionFailed)

	notes, err = f.repo.ListNotes(ctx, s.ID, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestSQLiteNotes_RejectedOnFinishedSession(t *testing.T) {
	f := newSQLiteFixture(t, 2)
	ctx := context.Background()
	s := f.create(t, models.ModeExam)
	now := time.Now().UTC()

	_, err := f.repo.Finish(ctx, s.ID, f.userID, nil, now)
	require.NoError(t, err)

	note := &models.ExamSessionNote{SessionID: s.ID, QuestionID: f.questions[0], Text: "late", UpdatedAt: now}
	assert.ErrorIs(t, f.repo.UpsertNote(ctx, f.userID, note), ErrConditionFailed)
	assert.ErrorIs(t, f.repo.DeleteNote(ctx, s.ID, f.userID, f.questions[0]), ErrConditionFailed)

	_, err = f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[0], now)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestSQLiteToggleFlag_ConcurrentTogglesDoNotLoseUpdates(t *testing.T) {
	f := newSQLiteFixture(t, 3)
	ctx := context.Background()
	s := f.create(t, models.ModeReview)

	// An even number of flips must leave the question unflagged.
	const toggles = 50
	var g errgroup.Group
	for i := 0; i < toggles; i++ {
		g.Go(func() error {
			_, err := f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[0], time.Now().UTC())
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := f.repo.GetByIDForUser(ctx, s.ID, f.userID)
	require.NoError(t, err)
	require.Empty(t, got.FlaggedQuestionIDs)

	// One more flip from a clean slate.
	flagged, err := f.repo.ToggleFlag(ctx, s.ID, f.userID, f.questions[0], time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{f.questions[0]}, flagged)
}

func TestSQLiteNotes_ConcurrentUpsertsKeepOneRow(t *testing.T) {
	f := newSQLiteFixture(t, 2)
	ctx := context.Background()
	s := f.create(t, models.ModePractice)

	const writers = 50
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			return f.repo.UpsertNote(ctx, f.userID, &models.ExamSessionNote{
				SessionID:  s.ID,
				QuestionID: f.questions[1],
				Text:       "note",
				UpdatedAt:  time.Now().UTC(),
			})
		})
	}
	require.NoError(t, g.Wait())

	notes, err := f.repo.ListNotes(ctx, s.ID, f.userID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, f.questions[1], notes[0].QuestionID)
	require.Equal(t, "note", notes[0].Text)
}

func TestParseUUIDs(t *testing.T) {
	id := uuid.New()

	got, err := parseUUIDs([]string{id.String()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, got)

	got, err = parseUUIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.Error(t, err)
}
