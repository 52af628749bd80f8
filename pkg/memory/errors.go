package memory

import (
	"errors"
	"fmt"
)

// ErrStorageCancelled indicates that both embedding backends failed, so the
// enclosing store mutation was aborted. No record is ever persisted without
// its vector; callers surface this so the user knows context was not saved.
var ErrStorageCancelled = errors.New("memory storage cancelled")

// EngineError wraps a failure with the engine operation that produced it.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	return &EngineError{Op: op, Err: err}
}

// embedErr converts a total embedding failure into the storage-cancelled
// condition, preserving the underlying cause in the chain.
func embedErr(op string, err error) error {
	return &EngineError{Op: op, Err: fmt.Errorf("%w: %v", ErrStorageCancelled, err)}
}
