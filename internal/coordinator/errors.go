package coordinator

import "errors"

// Error taxonomy for the coordinator. Handlers map these onto HTTP status
// codes; everything else is a 500. Precondition failures are detected before
// any mutation, so a non-nil error always means nothing changed.
var (
	// ErrNotFound: the ride or request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: the actor has no authority over the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict: a state precondition failed (duplicate request,
	// already-decided request).
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the ride cannot take this action (not offered, full,
	// self-request, bad decision value).
	ErrInvalidState = errors.New("invalid state")
	// ErrTransient: the storage transaction kept aborting; the call is safe
	// to retry as a whole.
	ErrTransient = errors.New("transient failure, retry")
)
