// Package spec holds the constants and error taxonomy shared across the
// orchestration packages and their HTTP surfaces.
package spec

import "errors"

// Typed rejection and failure classes, so callers can render an accurate
// message instead of a generic failure. Wrap with fmt.Errorf("%w: ...") and
// branch with errors.Is.
var (
	// ErrNotFound: no instance with the given id exists.
	ErrNotFound = errors.New("instance not found")

	// ErrAccessDenied: the caller is neither the owner nor an administrator.
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyExists: the owner already has an instance with that name.
	ErrAlreadyExists = errors.New("instance already exists")

	// ErrConflictingState: the action's precondition on the persisted status
	// did not hold. This is a rejection, not a failure; nothing was changed.
	ErrConflictingState = errors.New("conflicting instance state")

	// ErrRuntimeUnavailable: the compute-side call failed or timed out. The
	// persisted status has been reconciled to error.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrUseDedicatedEndpoint: the command text is a lifecycle-control verb
	// that must go through the lifecycle controller instead.
	ErrUseDedicatedEndpoint = errors.New("lifecycle commands must use the dedicated endpoint")
)
