package types

import (
	"errors"
	"fmt"
)

// Row store errors.
var (
	ErrNotFound          = errors.New("row not found")
	ErrInvalidID         = errors.New("invalid row ID")
	ErrInvalidData       = errors.New("invalid row data")
	ErrTableNotFound     = errors.New("table not found")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidOp         = errors.New("invalid change type")
	ErrMissingOwner      = errors.New("row has no owner")
	ErrStoreDetached     = errors.New("store is detached")
	ErrAlreadyAttached   = errors.New("store is already attached")
	ErrChannelClosed     = errors.New("change channel is closed")
	ErrInvalidStatus     = errors.New("invalid status value")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Synchronized collection errors.
var (
	// ErrNotAuthenticated is returned by mutations called without a session.
	ErrNotAuthenticated = errors.New("Not authenticated")
	// ErrFetchFailed is wrapped by every FetchError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrMutationFailed is wrapped by every MutationError.
	ErrMutationFailed = errors.New("mutation failed")
	// ErrUnmounted is returned when a controller is used after Unmount.
	ErrUnmounted = errors.New("collection is unmounted")
)

// FetchError records a failed read of a collection. Message is the
// table-specific text shown to users.
type FetchError struct {
	Table   string
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes both ErrFetchFailed and the underlying cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// MutationError records the failed remote leg of an optimistic mutation.
// By the time it is returned the local state has been reconciled.
type MutationError struct {
	Op    Op
	Table string
	ID    string
	Err   error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Table, e.ID, e.Err)
}

// Unwrap exposes both ErrMutationFailed and the underlying cause.
func (e *MutationError) Unwrap() []error {
	return []error{ErrMutationFailed, e.Err}
}
