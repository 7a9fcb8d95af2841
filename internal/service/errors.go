package service

import (
	"fmt"
)

// ErrScanFatal stops a scan. The scan is marked failed with the error message
// and the message is acknowledged.
type ErrScanFatal struct {
	error
}

func NewErrScanFatal(scanID string, err error) *ErrScanFatal {
	return &ErrScanFatal{fmt.Errorf("scan %s failed: %w", scanID, err)}
}

func (e *ErrScanFatal) Unwrap() error {
	return e.error
}
