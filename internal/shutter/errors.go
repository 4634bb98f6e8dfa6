package shutter

import "errors"

// Domain errors for the shutter package.
var (
	// ErrUnknownTarget is returned when a command names a shutter or group
	// that is not declared in the configuration. No bus I/O is attempted.
	ErrUnknownTarget = errors.New("shutter: unknown shutter or group")

	// ErrInvalidSchedule is returned when the executor encounters a
	// malformed timeline event. Unreachable with a correct compiler;
	// defensive check only.
	ErrInvalidSchedule = errors.New("shutter: invalid timeline event")
)
