package intake

import "fmt"

// ErrIntake reports a payload that can never be processed. It is
// acknowledged and dropped.
type ErrIntake struct {
	error
}

func NewErrIntakeDecode(err error) *ErrIntake {
	return &ErrIntake{fmt.Errorf("failed to decode scan job: %w", err)}
}

func NewErrIntakeInvalid(reason string) *ErrIntake {
	return &ErrIntake{fmt.Errorf("invalid scan job: %s", reason)}
}

func (e *ErrIntake) Unwrap() error {
	return e.error
}
