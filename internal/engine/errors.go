package engine

import (
	"errors"
	"fmt"
)

// ErrUniquenessConflict is returned by Store.CreateIncident when another
// worker created an incident with the same content hash first. The resolver
// converts it into a merge, never surfaces it.
var ErrUniquenessConflict = errors.New("incident content hash already exists")

// ValidationError marks a structurally invalid candidate. Such candidates
// are rejected before any tier runs and are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Reason)
}

// ServiceUnavailable wraps a failed embedding or reasoning call. The owning
// tier is skipped; the error never propagates past the resolver.
type ServiceUnavailable struct {
	Capability string
	Err        error
}

func (e *ServiceUnavailable) Error() string {
	return fmt.Sprintf("%s capability unavailable: %v", e.Capability, e.Err)
}

func (e *ServiceUnavailable) Unwrap() error { return e.Err }

// StorageError marks a failed store operation. Terminal for the current
// candidate; callers requeue the candidate rather than dropping it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
