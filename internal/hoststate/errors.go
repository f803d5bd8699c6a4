package hoststate

import "errors"

var (
	// ErrNoSnapshot is returned before any snapshot has been loaded.
	ErrNoSnapshot = errors.New("hoststate: no snapshot loaded")

	// ErrStale is returned when the active snapshot is older than the store's max age.
	ErrStale = errors.New("hoststate: snapshot is stale")

	// ErrInvalidSnapshot is returned for documents that decode but fail validation.
	ErrInvalidSnapshot = errors.New("hoststate: invalid snapshot")

	// ErrBadSignature is returned when a detached signature does not verify.
	ErrBadSignature = errors.New("hoststate: signature verification failed")
)
