package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"examprep-backend/internal/models"
)

// ExamSessionRepo is the Postgres session store. Every mutation is a single
// statement filtered by (id, user_id) so no read-then-write spans the network.
type ExamSessionRepo struct {
	pool *pgxpool.Pool
}

func NewExamSessionRepo(pool *pgxpool.Pool) *ExamSessionRepo {
	return &ExamSessionRepo{pool: pool}
}

// Create inserts the session together with its ordered question membership.
// A nil maxQuestions takes every question of the topic.
func (r *ExamSessionRepo) Create(ctx context.Context, s *models.ExamSession, maxQuestions *int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id FROM questions WHERE topic_id = $1 ORDER BY position, id LIMIT $2`,
		s.TopicID, maxQuestions,
	)
	if err != nil {
		return fmt.Errorf("failed to load topic questions: %w", err)
	}
	questionIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("failed to read topic questions: %w", err)
	}
	if len(questionIDs) == 0 {
		return ErrEmptyTopic
	}

	s.ID = uuid.New()
	s.Status = models.StatusInProgress
	s.CurrentIndex = 0
	s.QuestionIDs = questionIDs
	s.FlaggedQuestionIDs = []uuid.UUID{}

	query := `INSERT INTO exam_sessions (id, user_id, mode, status, topic_id, topic_name, course_id, university_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		s.ID, s.UserID, string(s.Mode), string(s.Status), s.TopicID, s.TopicName, s.CourseID, s.UniversityID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	membership := make([][]any, len(questionIDs))
	for i, qid := range questionIDs {
		membership[i] = []any{s.ID, qid, i}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"exam_session_questions"},
		[]string{"session_id", "question_id", "position"},
		pgx.CopyFromRows(membership),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session questions: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *ExamSessionRepo) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.ExamSession, error) {
	s := &models.ExamSession{}
	var mode, status string
	var flagged []string

	query := `SELECT id, user_id, mode, status, topic_id, topic_name, course_id, university_id, current_index,
			flagged_question_ids::text[], paused_at, finished_at, created_at, updated_at
		FROM exam_sessions WHERE id = $1 AND user_id = $2`

	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&s.ID, &s.UserID, &mode, &status, &s.TopicID, &s.TopicName, &s.CourseID, &s.UniversityID, &s.CurrentIndex,
		&flagged, &s.PausedAt, &s.FinishedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Mode = models.SessionMode(mode)
	s.Status = models.SessionStatus(status)

	if s.FlaggedQuestionIDs, err = parseUUIDs(flagged); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id FROM exam_session_questions WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	s.QuestionIDs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ExamSessionRepo) Pause(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions
		SET status = 'paused',
			paused_at = $3,
			current_index = COALESCE($4, current_index),
			updated_at = $3
		WHERE id = $1
		  AND user_id = $2
		  AND mode = 'practice'
		  AND finished_at IS NULL
	`, id, userID, now, index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (r *ExamSessionRepo) Resume(ctx context.Context, id, userID uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions
		SET status = 'in_progress',
			paused_at = NULL,
			updated_at = $3
		WHERE id = $1
		  AND user_id = $2
		  AND mode = 'practice'
		  AND finished_at IS NULL
	`, id, userID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

// Finish is idempotent: a finished session gets its finished_at rewritten.
func (r *ExamSessionRepo) Finish(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) (time.Time, error) {
	var finishedAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE exam_sessions
		SET status = 'finished',
			finished_at = $3,
			paused_at = NULL,
			current_index = COALESCE($4, current_index),
			updated_at = $3
		WHERE id = $1
		  AND user_id = $2
		RETURNING finished_at
	`, id, userID, now, index).Scan(&finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrConditionFailed
		}
		return time.Time{}, err
	}
	return finishedAt, nil
}

func (r *ExamSessionRepo) SetProgress(ctx context.Context, id, userID uuid.UUID, index int, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions
		SET current_index = $3,
			updated_at = $4
		WHERE id = $1
		  AND user_id = $2
		  AND finished_at IS NULL
	`, id, userID, index, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

// ToggleFlag flips membership of questionID in the flag set in one statement.
// The row lock taken by UPDATE serialises concurrent toggles, and the CASE is
// re-evaluated against the latest row version, so no toggle is lost.
func (r *ExamSessionRepo) ToggleFlag(ctx context.Context, id, userID, questionID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var flagged []string
	err := r.pool.QueryRow(ctx, `
		UPDATE exam_sessions s
		SET flagged_question_ids = CASE
				WHEN $3::uuid = ANY(s.flagged_question_ids) THEN array_remove(s.flagged_question_ids, $3::uuid)
				ELSE array_append(s.flagged_question_ids, $3::uuid)
			END,
			updated_at = $4
		WHERE s.id = $1
		  AND s.user_id = $2
		  AND s.finished_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM exam_session_questions q
			WHERE q.session_id = s.id AND q.question_id = $3::uuid
		  )
		RETURNING s.flagged_question_ids::text[]
	`, id, userID, questionID, now).Scan(&flagged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return parseUUIDs(flagged)
}

func (r *ExamSessionRepo) UpsertNote(ctx context.Context, userID uuid.UUID, n *models.ExamSessionNote) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO exam_session_notes (session_id, question_id, text, updated_at)
		SELECT s.id, q.question_id, $4::text, $5::timestamptz
		FROM exam_sessions s
		JOIN exam_session_questions q ON q.session_id = s.id AND q.question_id = $3
		WHERE s.id = $1
		  AND s.user_id = $2
		  AND s.finished_at IS NULL
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET text = EXCLUDED.text, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`, n.SessionID, userID, n.QuestionID, n.Text, n.UpdatedAt).Scan(&n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

// DeleteNote removes the note if one exists. Deleting an absent note is not
// an error as long as the session and question are eligible for writes.
func (r *ExamSessionRepo) DeleteNote(ctx context.Context, id, userID, questionID uuid.UUID) error {
	var eligible bool
	var removed int64
	err := r.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT s.id
			FROM exam_sessions s
			JOIN exam_session_questions q ON q.session_id = s.id AND q.question_id = $3
			WHERE s.id = $1
			  AND s.user_id = $2
			  AND s.finished_at IS NULL
		), deleted AS (
			DELETE FROM exam_session_notes n
			USING target t
			WHERE n.session_id = t.id AND n.question_id = $3
			RETURNING 1
		)
		SELECT EXISTS (SELECT 1 FROM target), (SELECT COUNT(*) FROM deleted)
	`, id, userID, questionID).Scan(&eligible, &removed)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrConditionFailed
	}
	return nil
}

func (r *ExamSessionRepo) ListNotes(ctx context.Context, id, userID uuid.UUID) ([]*models.ExamSessionNote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT n.session_id, n.question_id, n.text, n.updated_at
		FROM exam_session_notes n
		JOIN exam_sessions s ON s.id = n.session_id
		JOIN exam_session_questions q ON q.session_id = n.session_id AND q.question_id = n.question_id
		WHERE s.id = $1 AND s.user_id = $2
		ORDER BY q.position
	`, id, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []*models.ExamSessionNote{}
	for rows.Next() {
		n := &models.ExamSessionNote{}
		if err := rows.Scan(&n.SessionID, &n.QuestionID, &n.Text, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
