package modbus

import "errors"

// Domain errors for the Modbus relay bridge package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the relay board.
	ErrNotConnected = errors.New("modbus: not connected to relay board")

	// ErrConnectionFailed is returned when the connection to the relay
	// board cannot be established.
	ErrConnectionFailed = errors.New("modbus: connection failed")

	// ErrWriteFailed is returned when writing coil states to the board fails.
	ErrWriteFailed = errors.New("modbus: coil write failed")

	// ErrReadFailed is returned when reading coil states or registers fails.
	ErrReadFailed = errors.New("modbus: read failed")

	// ErrRelayOutOfRange is returned when a relay number or coil position
	// is outside the board's addressable range.
	ErrRelayOutOfRange = errors.New("modbus: relay out of range")

	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = errors.New("modbus: invalid configuration")
)
