package shutter

import "time"

// Step energises one relay for a duration on an actuator's local clock.
//
// Durations are whole milliseconds converted once at configuration load —
// the compiler and executor never touch floating-point time.
type Step struct {
	// Relay is the logical relay number (1..32).
	Relay int

	// Duration is how long the relay stays energised. Non-negative.
	Duration time.Duration
}

// Sequence is the ordered list of steps for one (shutter, action) pair.
//
// Steps run back-to-back: step i occupies [offset, offset+duration) where
// offset is the sum of all earlier step durations. An empty sequence is
// valid and means "no motion for this action".
type Sequence []Step

// Total returns the summed duration of all steps. Negative step durations
// contribute nothing.
func (s Sequence) Total() time.Duration {
	var total time.Duration
	for _, step := range s {
		if step.Duration > 0 {
			total += step.Duration
		}
	}
	return total
}

// Shutter is one physical shutter motor with its named activation programs.
//
// Shutters are built once at configuration load and are read-only for the
// lifetime of an invocation.
type Shutter struct {
	// Name identifies the shutter in commands and group definitions.
	Name string

	// Actions maps an action name (e.g. "up", "down") to its relay program.
	Actions map[string]Sequence
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
