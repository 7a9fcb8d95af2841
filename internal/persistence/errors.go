package persistence

import "fmt"

// ErrPersistence reports a write or read that kept failing after the
// bounded retry.
type ErrPersistence struct {
	error
}

func NewErrPersistence(op string, err error) *ErrPersistence {
	return &ErrPersistence{fmt.Errorf("persistence %s failed: %w", op, err)}
}

func (e *ErrPersistence) Unwrap() error {
	return e.error
}
