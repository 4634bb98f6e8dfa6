package shutter

import (
	"context"
	"fmt"
	"time"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
)

// Bus is the relay transport capability the executor and controller need.
// Satisfied by *modbus.RelayClient; faked in tests.
//
// Coil states are indexed by physical coil position — the executor maps
// logical relay numbers through modbus.CoilForRelay before writing.
type Bus interface {
	// WriteAll atomically sets all 32 outputs.
	WriteAll(states [modbus.CoilCount]bool) error

	// ReadAll returns the current state of all 32 outputs.
	ReadAll() ([modbus.CoilCount]bool, error)

	// ResetAll switches every output off.
	ResetAll() error

	// IsConnected reports whether the transport is usable.
	IsConnected() bool
}

// Executor realises a compiled timeline against the relay bus.
//
// The bus is an exclusively owned resource for the duration of Execute:
// no other writer may touch it while a timeline runs.
type Executor struct {
	bus    Bus
	logger Logger

	// sleep is swappable so tests run without real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor driving the given bus.
func NewExecutor(bus Bus) *Executor {
	return &Executor{
		bus:   bus,
		sleep: sleepContext,
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// Execute drives the timeline event by event.
//
// Before the first event it unconditionally resets all relays to a known
// baseline, defending against stale state from a prior run. State events
// map relay numbers to physical coils and issue one atomic whole-board
// write; delay events are the only suspension points and honour context
// cancellation.
//
// A final safety reset runs on every exit path — error, cancellation, or
// normal completion. If the bus is not connected at cleanup time the
// reset is skipped with a warning (nothing can be energised if the bus
// was never driven). A failing final reset is reported but never masks
// the original error.
//
// Parameters:
//   - ctx: Context for cancellation between events
//   - timeline: Compiled timeline to realise
//
// Returns:
//   - error: nil on success, otherwise the first failure encountered
func (e *Executor) Execute(ctx context.Context, timeline Timeline) (err error) {
	if e.bus == nil {
		return fmt.Errorf("bus is required")
	}

	defer func() {
		if !e.bus.IsConnected() {
			e.logWarn("final safety reset skipped: bus not connected")
			return
		}
		if resetErr := e.bus.ResetAll(); resetErr != nil {
			e.logError("final safety reset failed", resetErr)
			if err == nil {
				err = fmt.Errorf("final safety reset: %w", resetErr)
			}
		}
	}()

	// Known baseline before the first event.
	if err = e.bus.ResetAll(); err != nil {
		return fmt.Errorf("initial reset: %w", err)
	}

	for i, event := range timeline {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Kind {
		case KindSetState:
			states, stateErr := coilStates(event.Relays)
			if stateErr != nil {
				return fmt.Errorf("%w: event %d: %v", ErrInvalidSchedule, i, stateErr)
			}
			if err = e.bus.WriteAll(states); err != nil {
				return fmt.Errorf("applying state %s: %w", event, err)
			}
			e.logDebug("relay state applied", "event", event.String())

		case KindDelay:
			if event.Duration < 0 {
				return fmt.Errorf("%w: event %d: negative delay", ErrInvalidSchedule, i)
			}
			if err = e.sleep(ctx, event.Duration); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: event %d: unknown kind %d", ErrInvalidSchedule, i, event.Kind)
		}
	}

	return nil
}

// coilStates maps a relay set onto the physical output array.
func coilStates(relays []int) ([modbus.CoilCount]bool, error) {
	var states [modbus.CoilCount]bool
	for _, relay := range relays {
		coil, err := modbus.CoilForRelay(relay)
		if err != nil {
			return states, err
		}
		states[coil] = true
	}
	return states, nil
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// logDebug logs a debug message if a logger is set.
func (e *Executor) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (e *Executor) logWarn(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if a logger is set.
func (e *Executor) logError(msg string, err error) {
	if e.logger != nil {
		e.logger.Error(msg, "error", err)
	}
}
