package services

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// InvalidStateError reports a mode or status precondition that does not hold,
// e.g. pausing a review session or writing to a finished one.
type InvalidStateError struct{ Message string }

func (e *InvalidStateError) Error() string { return e.Message }

// InvalidTargetError reports a question id outside the session's membership.
type InvalidTargetError struct{ Message string }

func (e *InvalidTargetError) Error() string { return e.Message }

// StoreError wraps a failed store call. Its message is the store's own.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }
