// Package apperr defines the error kinds shared by every surface.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyText           = errors.New("note text is empty")
	ErrNotFound            = errors.New("not found")
	ErrInvalidBackupFormat = errors.New("invalid backup format")
	ErrOperationFailed     = errors.New("operation failed")
	ErrInvalidVideoID      = errors.New("invalid video id")
)

// OpError reports a storage backend failure for a write the caller expected to apply.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrOperationFailed, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrOperationFailed, e.Err}
}

// OperationFailed wraps a backend error so that errors.Is matches ErrOperationFailed.
func OperationFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
