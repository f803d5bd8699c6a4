package hc

import "errors"

var (
	// ErrDuplicateName is returned by Register when the probe name is taken.
	ErrDuplicateName = errors.New("duplicate probe name")

	// ErrInvalidProbe is returned by Register for a probe without a name or check.
	ErrInvalidProbe = errors.New("invalid probe")

	// ErrConfiguration marks startup failures such as a missing collaborator.
	ErrConfiguration = errors.New("health check configuration")

	// ErrCheckPanic wraps a value recovered from a panicking probe.
	ErrCheckPanic = errors.New("check panicked")

	// ErrCheckTimeout is recorded when a probe outlives the executor timeout.
	ErrCheckTimeout = errors.New("timed out")

	// ErrSerialization marks a result that could not be encoded for a response.
	ErrSerialization = errors.New("result serialization")
)
