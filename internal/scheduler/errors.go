package scheduler

import (
	"fmt"
	"time"
)

// ErrModuleExecution is an error or panic raised by a module. It is isolated
// to the module's result.
type ErrModuleExecution struct {
	error
}

func NewErrModuleExecution(module string, err error) *ErrModuleExecution {
	return &ErrModuleExecution{fmt.Errorf("module %s failed: %w", module, err)}
}

func NewErrModulePanic(module string, recovered any) *ErrModuleExecution {
	return &ErrModuleExecution{fmt.Errorf("module %s panicked: %v", module, recovered)}
}

func (e *ErrModuleExecution) Unwrap() error {
	return e.error
}

type ErrModuleTimeout struct {
	error
}

func NewErrModuleTimeout(module string, timeout time.Duration) *ErrModuleTimeout {
	return &ErrModuleTimeout{fmt.Errorf("module %s timed out after %s", module, timeout)}
}

// ErrCircuitOpen marks a module whose breaker opened during the scan.
type ErrCircuitOpen struct {
	error
}

func NewErrCircuitOpen(module string, failures int, skipped int) *ErrCircuitOpen {
	return &ErrCircuitOpen{fmt.Errorf("module %s: circuit breaker opened after %d consecutive failures, %d invocations skipped", module, failures, skipped)}
}
