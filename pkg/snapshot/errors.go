package snapshot

import "fmt"

// ReferenceError indicates a checkpoint reference that is neither a local
// directory nor a valid registry reference.
type ReferenceError struct {
	Reference string
	Err       error
}

// Error implements error.Error.
func (e *ReferenceError) Error() string {
	return fmt.Sprintf("invalid checkpoint reference %q: %v", e.Reference, e.Err)
}

// Unwrap supports errors.Is/As.
func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// PullError indicates a failure to fetch a checkpoint from the registry.
type PullError struct {
	Reference string
	Err       error
}

// Error implements error.Error.
func (e *PullError) Error() string {
	return fmt.Sprintf("pulling checkpoint %q: %v", e.Reference, e.Err)
}

// Unwrap supports errors.Is/As.
func (e *PullError) Unwrap() error {
	return e.Err
}
