package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/mqtt"
	"github.com/mj41/ha-modbus-windows-shutter/internal/shutter"
)

// commandQueueSize bounds how many commands can wait while one runs.
// Shutter moves take tens of seconds; a deep backlog of stale commands
// is worse than rejecting them.
const commandQueueSize = 16

// healthCheckInterval paces the broker connectivity check while idle.
const healthCheckInterval = time.Minute

// Domain errors for the service package.
var (
	// ErrInvalidCommand is returned for unparseable or incomplete
	// command payloads.
	ErrInvalidCommand = errors.New("service: invalid command payload")

	// ErrQueueFull is returned when a command arrives while the queue
	// is at capacity.
	ErrQueueFull = errors.New("service: command queue full")
)

// Broker is the MQTT capability the service needs.
// Satisfied by *mqtt.Client; faked in tests.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	HealthCheck(ctx context.Context) error
}

// Logger is the optional structured logging interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Service is the long-running MQTT command daemon.
//
// Commands are executed strictly one at a time: the relay board is a
// single shared resource and concurrent timelines would interleave
// writes. Incoming commands queue while one runs; a stop command
// additionally cancels the in-flight timeline before taking its turn,
// so the emergency path never waits behind a 25-second shutter move.
type Service struct {
	ctrl   *shutter.Controller
	bus    shutter.Bus
	broker Broker
	logger Logger
	qos    byte

	queue chan CommandMessage

	// inFlight cancels the currently executing command, if any.
	mu       sync.Mutex
	inFlight context.CancelFunc
}

// Options holds the dependencies for creating a Service.
type Options struct {
	// Controller executes commands. Required.
	Controller *shutter.Controller

	// Bus is read for state publication after commands. Required.
	Bus shutter.Bus

	// Broker is the MQTT connection. Required.
	Broker Broker

	// QoS for published acks and state.
	QoS byte

	// Logger is optional structured logging.
	Logger Logger
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	return &Service{
		ctrl:   opts.Controller,
		bus:    opts.Bus,
		broker: opts.Broker,
		logger: opts.Logger,
		qos:    opts.QoS,
		queue:  make(chan CommandMessage, commandQueueSize),
	}, nil
}

// Run subscribes to the command topic and processes commands until the
// context is cancelled.
//
// Parameters:
//   - ctx: Context governing the service lifetime
//
// Returns:
//   - error: If the initial subscription fails; nil on clean shutdown
func (s *Service) Run(ctx context.Context) error {
	topic := mqtt.Topics{}.Command()
	if err := s.broker.Subscribe(topic, s.qos, s.handleCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	defer func() {
		if err := s.broker.Unsubscribe(topic); err != nil {
			s.logWarn("unsubscribing on shutdown failed", "topic", topic, "error", err)
		}
	}()

	s.logInfo("service started", "topic", topic)
	s.publishState()

	health := time.NewTicker(healthCheckInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logInfo("service stopping")
			return nil
		case cmd := <-s.queue:
			s.execute(ctx, cmd)
		case <-health.C:
			if err := s.broker.HealthCheck(ctx); err != nil {
				s.logWarn("broker health check failed", "error", err)
			}
		}
	}
}

// handleCommand parses and enqueues one incoming command.
// Runs on a paho handler goroutine; must not block.
func (s *Service) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		s.logWarn("dropping unparseable command", "topic", topic, "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.Action == "" {
		s.logWarn("dropping command without action", "topic", topic)
		return fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}
	if cmd.ID == "" {
		cmd.ID = "cmd-" + uuid.NewString()[:8]
	}

	// Stop preempts everything ahead of it: queued commands are failed
	// first (while the run loop is still parked in the current command),
	// then the running timeline is cancelled. The executor's safety reset
	// fires on cancellation, so relays are already off by the time the
	// stop's own reset executes, and nothing stale runs after it.
	if cmd.Action == shutter.ActionStop {
		s.preemptPending()
		s.cancelInFlight()
	}

	select {
	case s.queue <- cmd:
		s.logDebug("command queued", "id", cmd.ID, "action", cmd.Action, "target", cmd.Target)
		return nil
	default:
		s.publishAck(ResultMessage{
			ID:        cmd.ID,
			Action:    cmd.Action,
			Target:    cmd.Target,
			Outcome:   shutter.OutcomeFailure,
			Error:     ErrQueueFull.Error(),
			Timestamp: newTimestamp(),
		})
		return ErrQueueFull
	}
}

// execute runs one command and publishes its acknowledgement and the
// resulting relay state.
func (s *Service) execute(ctx context.Context, cmd CommandMessage) {
	cmdCtx, cancel := context.WithCancel(ctx)
	s.setInFlight(cancel)

	start := time.Now()
	err := s.ctrl.Perform(cmdCtx, cmd.Target, cmd.Action)
	elapsed := time.Since(start)

	s.setInFlight(nil)
	cancel()

	result := ResultMessage{
		ID:         cmd.ID,
		Action:     cmd.Action,
		Target:     cmd.Target,
		Outcome:    shutter.OutcomeSuccess,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  newTimestamp(),
	}
	if err != nil {
		result.Outcome = shutter.OutcomeFailure
		result.Error = err.Error()
		s.logWarn("command failed", "id", cmd.ID, "action", cmd.Action, "error", err)
	} else {
		s.logInfo("command completed", "id", cmd.ID, "action", cmd.Action,
			"target", cmd.Target, "elapsed", elapsed.String())
	}

	s.publishAck(result)
	s.publishState()
}

// preemptPending fails every queued command so a stop never waits behind
// a multi-second move that has not started yet.
func (s *Service) preemptPending() {
	for {
		select {
		case pending := <-s.queue:
			s.logInfo("stop received: preempting queued command",
				"id", pending.ID, "action", pending.Action, "target", pending.Target)
			s.publishAck(ResultMessage{
				ID:        pending.ID,
				Action:    pending.Action,
				Target:    pending.Target,
				Outcome:   shutter.OutcomeFailure,
				Error:     "preempted by stop",
				Timestamp: newTimestamp(),
			})
		default:
			return
		}
	}
}

// cancelInFlight aborts the currently executing command, if any.
func (s *Service) cancelInFlight() {
	s.mu.Lock()
	cancel := s.inFlight
	s.mu.Unlock()

	if cancel != nil {
		s.logInfo("stop received: cancelling in-flight command")
		cancel()
	}
}

func (s *Service) setInFlight(cancel context.CancelFunc) {
	s.mu.Lock()
	s.inFlight = cancel
	s.mu.Unlock()
}

// publishAck publishes a command result. Best effort: a broker hiccup
// must not fail the command that already ran.
func (s *Service) publishAck(result ResultMessage) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logError("marshalling ack", err)
		return
	}

	topic := mqtt.Topics{}.Ack(result.ID)
	if err := s.broker.Publish(topic, payload, s.qos, false); err != nil {
		s.logWarn("publishing ack failed", "topic", topic, "error", err)
	}
}

// publishState reads the board and publishes the energised relays as a
// retained message, so late subscribers see the current state.
func (s *Service) publishState() {
	states, err := s.bus.ReadAll()
	if err != nil {
		s.logWarn("state read failed, not publishing", "error", err)
		return
	}

	active := make([]int, 0)
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

	payload, err := json.Marshal(StateMessage{
		ActiveRelays: active,
		UpdatedAt:    newTimestamp(),
	})
	if err != nil {
		s.logError("marshalling state", err)
		return
	}

	topic := mqtt.Topics{}.State()
	if err := s.broker.Publish(topic, payload, s.qos, true); err != nil {
		s.logWarn("publishing state failed", "topic", topic, "error", err)
	}
}

// logDebug logs a debug message if a logger is set.
func (s *Service) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (s *Service) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is set.
func (s *Service) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if a logger is set.
func (s *Service) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}
