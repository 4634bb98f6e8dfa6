package shutter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
)

// ActionStop is the always-available emergency action: it bypasses
// compilation entirely and switches every relay off immediately.
const ActionStop = "stop"

// Invocation outcomes recorded to history.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Invocation describes one completed command for the history trail.
type Invocation struct {
	Target   string
	Action   string
	Duration time.Duration
	Outcome  string
	Error    string
}

// HistoryRecorder persists invocations. Optional — a nil recorder
// disables history. Satisfied by *history.Repository.
type HistoryRecorder interface {
	RecordInvocation(ctx context.Context, inv Invocation) error
}

// ControllerOptions holds configuration for creating a controller.
type ControllerOptions struct {
	// Shutters is the declared shutter inventory, keyed by name.
	Shutters map[string]Shutter

	// Groups maps a group name to its ordered member shutter names.
	// Membership is validated against Shutters at configuration load.
	Groups map[string][]string

	// Bus is the relay transport. Required.
	Bus Bus

	// Logger is optional structured logging.
	Logger Logger

	// History is optional invocation recording.
	History HistoryRecorder
}

// Controller orchestrates shutter commands: it resolves a target name to
// a set of shutters, compiles their sequences into one timeline and
// executes it on the relay bus.
//
// A single shutter is treated as a group of one — there is no separate
// code path, so single and group moves cannot diverge in behaviour.
type Controller struct {
	shutters map[string]Shutter
	groups   map[string][]string
	bus      Bus
	exec     *Executor
	logger   Logger
	history  HistoryRecorder
}

// NewController creates a controller.
//
// Returns:
//   - *Controller: Ready controller
//   - error: If required options are missing
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.Shutters == nil {
		opts.Shutters = map[string]Shutter{}
	}
	if opts.Groups == nil {
		opts.Groups = map[string][]string{}
	}

	exec := NewExecutor(opts.Bus)
	if opts.Logger != nil {
		exec.SetLogger(opts.Logger)
	}

	return &Controller{
		shutters: opts.Shutters,
		groups:   opts.Groups,
		bus:      opts.Bus,
		exec:     exec,
		logger:   opts.Logger,
		history:  opts.History,
	}, nil
}

// Perform runs an action against a shutter or group.
//
// The stop action resets all relays immediately without compiling. For
// any other action the target's sequences are compiled into one timeline
// and executed; members that do not define the action, or define it with
// an empty sequence, are excluded with a warning rather than failing the
// whole command.
//
// Parameters:
//   - ctx: Context for cancellation between timeline events
//   - target: Shutter or group name (ignored for stop)
//   - action: Action name, e.g. "up", "down", "stop"
//
// Returns:
//   - error: ErrUnknownTarget, or the bus failure that aborted execution
func (c *Controller) Perform(ctx context.Context, target, action string) error {
	if action == ActionStop {
		return c.Stop(ctx)
	}

	start := time.Now()
	err := c.perform(ctx, target, action)
	c.record(ctx, target, action, time.Since(start), err)
	return err
}

// Stop switches every relay off immediately.
//
// Stop is a separate invocation, not a signal into a running timeline:
// it owns the bus for the duration of one reset and returns.
func (c *Controller) Stop(ctx context.Context) error {
	c.logInfo("stop requested: all relays off")

	start := time.Now()
	err := c.bus.ResetAll()
	if err != nil {
		err = fmt.Errorf("stop: %w", err)
	}
	c.record(ctx, "", ActionStop, time.Since(start), err)
	return err
}

// perform compiles and executes one non-stop action.
func (c *Controller) perform(ctx context.Context, target, action string) error {
	members, err := c.resolve(target)
	if err != nil {
		return err
	}

	seqs := c.sequences(members, action)
	timeline := Compile(seqs)

	c.logInfo("timeline compiled",
		"target", target,
		"action", action,
		"shutters", len(seqs),
		"events", len(timeline),
		"total", timeline.Total().String())

	if err := c.exec.Execute(ctx, timeline); err != nil {
		return fmt.Errorf("executing %q on %q: %w", action, target, err)
	}

	c.logStates()
	return nil
}

// resolve maps a target name to the shutters it covers.
func (c *Controller) resolve(target string) ([]string, error) {
	if _, ok := c.shutters[target]; ok {
		return []string{target}, nil
	}
	if members, ok := c.groups[target]; ok {
		return members, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
}

// sequences collects the runnable sequences for an action across members.
// Missing members, missing actions and empty sequences are excluded with
// a warning — a partial group still moves the shutters that can move.
func (c *Controller) sequences(members []string, action string) []Sequence {
	seqs := make([]Sequence, 0, len(members))
	for _, name := range members {
		sh, ok := c.shutters[name]
		if !ok {
			c.logWarn("group member not declared, skipping", "shutter", name)
			continue
		}
		seq, ok := sh.Actions[action]
		if !ok {
			c.logWarn("shutter does not define action, skipping",
				"shutter", name, "action", action)
			continue
		}
		if len(seq) == 0 {
			c.logWarn("action has empty sequence, skipping",
				"shutter", name, "action", action)
			continue
		}
		seqs = append(seqs, seq)
	}
	return seqs
}

// logStates reads the relay states back and logs the energised relays.
// Best effort: a read failure after a successful action is only a warning.
func (c *Controller) logStates() {
	states, err := c.bus.ReadAll()
	if err != nil {
		c.logWarn("relay state read-back failed", "error", err)
		return
	}

	var active []int
	for coil, on := range states {
		if !on {
			continue
		}
		relay, err := modbus.RelayForCoil(coil)
		if err != nil {
			continue
		}
		active = append(active, relay)
	}
	sort.Ints(active)

	c.logDebug("relay states after action", "active", active)
}

// record persists the invocation if history is enabled.
func (c *Controller) record(ctx context.Context, target, action string, elapsed time.Duration, err error) {
	if c.history == nil {
		return
	}

	inv := Invocation{
		Target:   target,
		Action:   action,
		Duration: elapsed,
		Outcome:  OutcomeSuccess,
	}
	if err != nil {
		inv.Outcome = OutcomeFailure
		inv.Error = err.Error()
	}

	if recErr := c.history.RecordInvocation(ctx, inv); recErr != nil {
		c.logWarn("failed to record invocation", "error", recErr)
	}
}

// logDebug logs a debug message if a logger is set.
func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
