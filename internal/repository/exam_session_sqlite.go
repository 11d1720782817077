package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"examprep-backend/internal/models"
)

// ExamSessionSQLiteRepo is the embedded session store used for local
// development and tests. It keeps the same conditional-write contract as
// ExamSessionRepo; the flag set is a JSON array flipped with json_each.
type ExamSessionSQLiteRepo struct {
	db *sql.DB
}

func NewExamSessionSQLiteRepo(db *sql.DB) *ExamSessionSQLiteRepo {
	return &ExamSessionSQLiteRepo{db: db}
}

func (r *ExamSessionSQLiteRepo) Create(ctx context.Context, s *models.ExamSession, maxQuestions *int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback()

	limit := -1
	if maxQuestions != nil {
		limit = *maxQuestions
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM questions WHERE topic_id = ? ORDER BY position, id LIMIT ?`,
		s.TopicID.String(), limit,
	)
	if err != nil {
		return fmt.Errorf("failed to load topic questions: %w", err)
	}
	var questionIDs []uuid.UUID
	for rows.Next() {
		var qid uuid.UUID
		if err := rows.Scan(&qid); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read topic questions: %w", err)
		}
		questionIDs = append(questionIDs, qid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read topic questions: %w", err)
	}
	if len(questionIDs) == 0 {
		return ErrEmptyTopic
	}

	now := time.Now().UTC()
	s.ID = uuid.New()
	s.Status = models.StatusInProgress
	s.CurrentIndex = 0
	s.QuestionIDs = questionIDs
	s.FlaggedQuestionIDs = []uuid.UUID{}
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exam_sessions (id, user_id, mode, status, topic_id, topic_name, course_id, university_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.UserID.String(), string(s.Mode), string(s.Status), s.TopicID.String(), s.TopicName,
		nullableUUID(s.CourseID), nullableUUID(s.UniversityID), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO exam_session_questions (session_id, question_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session questions: %w", err)
	}
	defer stmt.Close()
	for i, qid := range questionIDs {
		if _, err := stmt.ExecContext(ctx, s.ID.String(), qid.String(), i); err != nil {
			return fmt.Errorf("failed to insert session questions: %w", err)
		}
	}

	return tx.Commit()
}

func (r *ExamSessionSQLiteRepo) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.ExamSession, error) {
	s := &models.ExamSession{}
	var (
		mode, status, flagged, createdAt, updatedAt string
		courseID, universityID                      uuid.NullUUID
		pausedAt, finishedAt                        sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, mode, status, topic_id, topic_name, course_id, university_id, current_index,
			flagged_question_ids, paused_at, finished_at, created_at, updated_at
		FROM exam_sessions WHERE id = ? AND user_id = ?`,
		id.String(), userID.String(),
	).Scan(
		&s.ID, &s.UserID, &mode, &status, &s.TopicID, &s.TopicName, &courseID, &universityID, &s.CurrentIndex,
		&flagged, &pausedAt, &finishedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.Mode = models.SessionMode(mode)
	s.Status = models.SessionStatus(status)
	if courseID.Valid {
		s.CourseID = &courseID.UUID
	}
	if universityID.Valid {
		s.UniversityID = &universityID.UUID
	}
	if s.FlaggedQuestionIDs, err = decodeFlagged(flagged); err != nil {
		return nil, err
	}
	if s.PausedAt, err = parseNullTime(pausedAt); err != nil {
		return nil, err
	}
	if s.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT question_id FROM exam_session_questions WHERE session_id = ? ORDER BY position`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var qid uuid.UUID
		if err := rows.Scan(&qid); err != nil {
			return nil, err
		}
		s.QuestionIDs = append(s.QuestionIDs, qid)
	}
	return s, rows.Err()
}

func (r *ExamSessionSQLiteRepo) Pause(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET status = 'paused',
			paused_at = ?,
			current_index = COALESCE(?, current_index),
			updated_at = ?
		WHERE id = ?
		  AND user_id = ?
		  AND mode = 'practice'
		  AND finished_at IS NULL`,
		formatTime(now), nullableInt(index), formatTime(now), id.String(), userID.String(),
	)
	return conditionalResult(res, err)
}

func (r *ExamSessionSQLiteRepo) Resume(ctx context.Context, id, userID uuid.UUID, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET status = 'in_progress',
			paused_at = NULL,
			updated_at = ?
		WHERE id = ?
		  AND user_id = ?
		  AND mode = 'practice'
		  AND finished_at IS NULL`,
		formatTime(now), id.String(), userID.String(),
	)
	return conditionalResult(res, err)
}

func (r *ExamSessionSQLiteRepo) Finish(ctx context.Context, id, userID uuid.UUID, index *int, now time.Time) (time.Time, error) {
	var finishedAt string
	err := r.db.QueryRowContext(ctx, `
		UPDATE exam_sessions
		SET status = 'finished',
			finished_at = ?,
			paused_at = NULL,
			current_index = COALESCE(?, current_index),
			updated_at = ?
		WHERE id = ?
		  AND user_id = ?
		RETURNING finished_at`,
		formatTime(now), nullableInt(index), formatTime(now), id.String(), userID.String(),
	).Scan(&finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrConditionFailed
		}
		return time.Time{}, err
	}
	return parseTime(finishedAt)
}

func (r *ExamSessionSQLiteRepo) SetProgress(ctx context.Context, id, userID uuid.UUID, index int, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET current_index = ?,
			updated_at = ?
		WHERE id = ?
		  AND user_id = ?
		  AND finished_at IS NULL`,
		index, formatTime(now), id.String(), userID.String(),
	)
	return conditionalResult(res, err)
}

func (r *ExamSessionSQLiteRepo) ToggleFlag(ctx context.Context, id, userID, questionID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	qid := questionID.String()
	var flagged string
	err := r.db.QueryRowContext(ctx, `
		UPDATE exam_sessions
		SET flagged_question_ids = CASE
				WHEN EXISTS (SELECT 1 FROM json_each(exam_sessions.flagged_question_ids) WHERE value = ?)
				THEN (
					SELECT COALESCE(json_group_array(value), '[]')
					FROM json_each(exam_sessions.flagged_question_ids)
					WHERE value <> ?
				)
				ELSE json_insert(exam_sessions.flagged_question_ids, '$[#]', ?)
			END,
			updated_at = ?
		WHERE id = ?
		  AND user_id = ?
		  AND finished_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM exam_session_questions q
			WHERE q.session_id = exam_sessions.id AND q.question_id = ?
		  )
		RETURNING flagged_question_ids`,
		qid, qid, qid, formatTime(now), id.String(), userID.String(), qid,
	).Scan(&flagged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}
	return decodeFlagged(flagged)
}

func (r *ExamSessionSQLiteRepo) UpsertNote(ctx context.Context, userID uuid.UUID, n *models.ExamSessionNote) error {
	var updatedAt string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO exam_session_notes (session_id, question_id, text, updated_at)
		SELECT s.id, q.question_id, ?, ?
		FROM exam_sessions s
		JOIN exam_session_questions q ON q.session_id = s.id AND q.question_id = ?
		WHERE s.id = ?
		  AND s.user_id = ?
		  AND s.finished_at IS NULL
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
		RETURNING updated_at`,
		n.Text, formatTime(n.UpdatedAt), n.QuestionID.String(), n.SessionID.String(), userID.String(),
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConditionFailed
		}
		return err
	}
	n.UpdatedAt, err = parseTime(updatedAt)
	return err
}

// DeleteNote checks eligibility and deletes inside one transaction; the
// single pooled connection keeps the pair atomic.
func (r *ExamSessionSQLiteRepo) DeleteNote(ctx context.Context, id, userID, questionID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var eligible bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM exam_sessions s
			JOIN exam_session_questions q ON q.session_id = s.id AND q.question_id = ?
			WHERE s.id = ?
			  AND s.user_id = ?
			  AND s.finished_at IS NULL
		)`,
		questionID.String(), id.String(), userID.String(),
	).Scan(&eligible)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrConditionFailed
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM exam_session_notes WHERE session_id = ? AND question_id = ?`,
		id.String(), questionID.String(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ExamSessionSQLiteRepo) ListNotes(ctx context.Context, id, userID uuid.UUID) ([]*models.ExamSessionNote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT n.session_id, n.question_id, n.text, n.updated_at
		FROM exam_session_notes n
		JOIN exam_sessions s ON s.id = n.session_id
		JOIN exam_session_questions q ON q.session_id = n.session_id AND q.question_id = n.question_id
		WHERE s.id = ? AND s.user_id = ?
		ORDER BY q.position`,
		id.String(), userID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []*models.ExamSessionNote{}
	for rows.Next() {
		n := &models.ExamSessionNote{}
		var updatedAt string
		if err := rows.Scan(&n.SessionID, &n.QuestionID, &n.Text, &updatedAt); err != nil {
			return nil, err
		}
		if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func conditionalResult(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

func decodeFlagged(raw string) ([]uuid.UUID, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid flagged question ids: %w", err)
	}
	return parseUUIDs(values)
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
