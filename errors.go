package duraref

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The concrete error types below carry the
// key (and the rejected value where one exists) so failures are diagnosable
// without inspecting the store.
var (
	ErrNotFound     = errors.New("duraref: record not found")
	ErrInvalidValue = errors.New("duraref: invalid value")
	ErrInvalidState = errors.New("duraref: invalid state")
	ErrBusy         = errors.New("duraref: store busy")
)

// NotFoundError reports that a key had no persisted record at operation time.
// Recoverable: the handle resumes automatically once the key is recreated.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("duraref: no record for key %q", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidValueError reports a candidate value rejected by the handle's
// validator. No state was mutated.
type InvalidValueError struct {
	Key   string
	Value any // the rejected candidate
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("duraref: validator rejected value %v for key %q", e.Value, e.Key)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInvalidValue }

// InvalidStateError reports a validator that rejects the value the reference
// currently holds: installing such a validator, or opening a fresh reference
// whose default the caller-supplied validator rejects.
type InvalidStateError struct {
	Key   string
	Value any // the current value the validator rejected
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("duraref: validator rejects current value %v of key %q", e.Value, e.Key)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// BusyError reports store write-lock contention beyond the configured busy
// timeout. Transient: the caller may retry the whole operation. This layer
// auto-retries version conflicts only, never busy failures.
type BusyError struct {
	Key string
	Err error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("duraref: store busy on key %q: %v", e.Key, e.Err)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

func (e *BusyError) Unwrap() error { return e.Err }
