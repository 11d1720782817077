package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    topic_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions (topic_id, position);

CREATE TABLE IF NOT EXISTS exam_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    mode TEXT NOT NULL CHECK (mode IN ('practice', 'review', 'exam')),
    status TEXT NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'paused', 'finished')),
    topic_id TEXT NOT NULL,
    topic_name TEXT NOT NULL,
    course_id TEXT,
    university_id TEXT,
    current_index INTEGER NOT NULL DEFAULT 0 CHECK (current_index >= 0),
    flagged_question_ids TEXT NOT NULL DEFAULT '[]',
    paused_at TEXT,
    finished_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_session_questions (
    session_id TEXT NOT NULL,
    question_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (session_id, question_id),
    UNIQUE (session_id, position),
    FOREIGN KEY (session_id) REFERENCES exam_sessions (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS exam_session_notes (
    session_id TEXT NOT NULL,
    question_id TEXT NOT NULL,
    text TEXT NOT NULL CHECK (length(trim(text)) > 0),
    updated_at TEXT NOT NULL,
    PRIMARY KEY (session_id, question_id),
    FOREIGN KEY (session_id, question_id)
        REFERENCES exam_session_questions (session_id, question_id) ON DELETE CASCADE
);
`

// OpenSQLite opens the embedded store and applies its schema. A single
// connection is kept open so that writes are serialised in-process and an
// in-memory database survives for the lifetime of the pool.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return db, nil
}

// SeedQuestions appends n questions to a topic's bank in the embedded store
// and returns their ids in position order.
func SeedQuestions(ctx context.Context, db *sql.DB, topicID uuid.UUID, n int) ([]uuid.UUID, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM questions WHERE topic_id = ?`, topicID.String(),
	).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to read topic positions: %w", err)
	}

	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, topic_id, position) VALUES (?, ?, ?)`,
			id.String(), topicID.String(), next+i,
		); err != nil {
			return nil, fmt.Errorf("failed to insert question: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
