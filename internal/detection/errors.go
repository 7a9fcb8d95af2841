package detection

import "fmt"

// ErrValidationService means the validator could not give a usable answer
// for a batch. The batch is accepted unverified.
type ErrValidationService struct {
	error
}

func NewErrValidationService(batch int, err error) *ErrValidationService {
	return &ErrValidationService{fmt.Errorf("validation of %d tokens failed: %w", batch, err)}
}

func NewErrValidationShape(sent, received int) *ErrValidationService {
	return &ErrValidationService{fmt.Errorf("validator returned %d verdicts for %d tokens", received, sent)}
}

func (e *ErrValidationService) Unwrap() error {
	return e.error
}
