package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrTransientStore  = errors.New("store unavailable")
	ErrPartialMutation = errors.New("partial mutation")
)

// ValidationError is returned before any store write is attempted.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransientStoreError wraps a failure of the store itself (I/O, closed database).
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

func (e *TransientStoreError) Is(target error) bool {
	return target == ErrTransientStore
}

// PartialMutationError reports a multi-document mutation that stopped half way.
// Step names the write that failed; earlier steps are already applied.
type PartialMutationError struct {
	Step      string
	RequestID string
	Err       error
}

func (e *PartialMutationError) Error() string {
	return fmt.Sprintf("request %s: %s failed: %v", e.RequestID, e.Step, e.Err)
}

func (e *PartialMutationError) Unwrap() error {
	return e.Err
}

func (e *PartialMutationError) Is(target error) bool {
	return target == ErrPartialMutation
}

// ErrorCode maps an error onto the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPartialMutation):
		return "partial_mutation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransientStore):
		return "transient"
	default:
		return "internal"
	}
}
