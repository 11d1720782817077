package repository

import "errors"

var (
	// ErrNotFound is returned by owner-scoped reads when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrConditionFailed means a conditional write matched no row. The caller
	// decides why by re-reading the session.
	ErrConditionFailed = errors.New("conditional write matched no rows")

	ErrEmptyTopic = errors.New("topic has no questions")
)
