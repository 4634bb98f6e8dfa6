package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/mqtt"
	"github.com/mj41/ha-modbus-windows-shutter/internal/shutter"
)

// fakeBus is an in-memory relay board.
type fakeBus struct {
	mu     sync.Mutex
	states [modbus.CoilCount]bool

	// wrote signals the first state write, so tests can synchronise
	// with a command that has started executing.
	wrote     chan struct{}
	wroteOnce sync.Once
}

func newFakeBus() *fakeBus {
	return &fakeBus{wrote: make(chan struct{})}
}

func (f *fakeBus) WriteAll(states [modbus.CoilCount]bool) error {
	f.mu.Lock()
	f.states = states
	f.mu.Unlock()
	f.wroteOnce.Do(func() { close(f.wrote) })
	return nil
}

func (f *fakeBus) ReadAll() ([modbus.CoilCount]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states, nil
}

func (f *fakeBus) ResetAll() error {
	return f.WriteAll([modbus.CoilCount]bool{})
}

func (f *fakeBus) IsConnected() bool { return true }

// fakeBroker records published messages and captures the command handler.
type fakeBroker struct {
	mu           sync.Mutex
	published    []publication
	handler      mqtt.MessageHandler
	unsubscribed []string
}

type publication struct {
	topic    string
	payload  []byte
	retained bool
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publication{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeBroker) HealthCheck(context.Context) error { return nil }

// find returns the first publication on a topic, waiting briefly for
// asynchronous processing.
func (f *fakeBroker) find(t *testing.T, topic string) publication {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, p := range f.published {
			if p.topic == topic {
				f.mu.Unlock()
				return p
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no publication on %s", topic)
	return publication{}
}

func newTestService(t *testing.T, bus *fakeBus, broker *fakeBroker) *Service {
	t.Helper()

	ctrl, err := shutter.NewController(shutter.ControllerOptions{
		Shutters: map[string]shutter.Shutter{
			"living_room": {
				Name: "living_room",
				Actions: map[string]shutter.Sequence{
					"up":   {{Relay: 1, Duration: 20 * time.Millisecond}},
					"slow": {{Relay: 1, Duration: 30 * time.Second}},
				},
			},
		},
		Bus: bus,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	svc, err := New(Options{
		Controller: ctrl,
		Bus:        bus,
		Broker:     broker,
		QoS:        1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("New() error = nil, want missing dependency failure")
	}
}

func TestHandleCommand_GeneratesID(t *testing.T) {
	svc := newTestService(t, newFakeBus(), &fakeBroker{})

	payload := []byte(`{"action":"up","target":"living_room"}`)
	if err := svc.handleCommand("shutter/command", payload); err != nil {
		t.Fatalf("handleCommand() error = %v", err)
	}

	select {
	case cmd := <-svc.queue:
		if !strings.HasPrefix(cmd.ID, "cmd-") {
			t.Errorf("generated ID = %q, want cmd- prefix", cmd.ID)
		}
		if cmd.Action != "up" || cmd.Target != "living_room" {
			t.Errorf("queued command = %+v", cmd)
		}
	default:
		t.Fatal("command was not queued")
	}
}

func TestHandleCommand_Invalid(t *testing.T) {
	svc := newTestService(t, newFakeBus(), &fakeBroker{})

	if err := svc.handleCommand("shutter/command", []byte(`{not json`)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("handleCommand(bad json) error = %v, want ErrInvalidCommand", err)
	}
	if err := svc.handleCommand("shutter/command", []byte(`{"target":"living_room"}`)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("handleCommand(no action) error = %v, want ErrInvalidCommand", err)
	}
	if len(svc.queue) != 0 {
		t.Errorf("queue length = %d, want 0 after invalid commands", len(svc.queue))
	}
}

func TestHandleCommand_QueueFull(t *testing.T) {
	broker := &fakeBroker{}
	svc := newTestService(t, newFakeBus(), broker)

	for i := 0; i < commandQueueSize; i++ {
		if err := svc.handleCommand("shutter/command", []byte(`{"id":"cmd-fill","action":"up","target":"living_room"}`)); err != nil {
			t.Fatalf("handleCommand() fill %d error = %v", i, err)
		}
	}

	err := svc.handleCommand("shutter/command", []byte(`{"id":"cmd-reject","action":"up","target":"living_room"}`))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("handleCommand() on full queue error = %v, want ErrQueueFull", err)
	}

	// The rejected command was acked with a failure
	pub := broker.find(t, mqtt.Topics{}.Ack("cmd-reject"))
	var result ResultMessage
	if err := json.Unmarshal(pub.payload, &result); err != nil {
		t.Fatalf("unmarshalling ack: %v", err)
	}
	if result.Outcome != shutter.OutcomeFailure {
		t.Errorf("rejected command outcome = %q, want failure", result.Outcome)
	}
}

func TestRun_ExecutesAndAcks(t *testing.T) {
	bus := newFakeBus()
	broker := &fakeBroker{}
	svc := newTestService(t, bus, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Wait for the subscription, then inject a command the way paho would
	deadline := time.Now().Add(time.Second)
	for {
		broker.mu.Lock()
		h := broker.handler
		broker.mu.Unlock()
		if h != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Run() never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload := []byte(`{"id":"cmd-test1","action":"up","target":"living_room"}`)
	if err := broker.handler("shutter/command", payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	pub := broker.find(t, mqtt.Topics{}.Ack("cmd-test1"))
	var result ResultMessage
	if err := json.Unmarshal(pub.payload, &result); err != nil {
		t.Fatalf("unmarshalling ack: %v", err)
	}
	if result.Outcome != shutter.OutcomeSuccess {
		t.Errorf("outcome = %q (error %q), want success", result.Outcome, result.Error)
	}
	if result.Action != "up" || result.Target != "living_room" {
		t.Errorf("ack = %+v", result)
	}

	// Retained state was published after the command
	state := broker.find(t, mqtt.Topics{}.State())
	if !state.retained {
		t.Error("state publication not retained")
	}
	var sm StateMessage
	if err := json.Unmarshal(state.payload, &sm); err != nil {
		t.Fatalf("unmarshalling state: %v", err)
	}
	if len(sm.ActiveRelays) != 0 {
		t.Errorf("active relays after completed action = %v, want none", sm.ActiveRelays)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(time.Second):
		t.Error("Run() did not stop on context cancellation")
	}

	// Shutdown releases the command subscription.
	broker.mu.Lock()
	unsubscribed := append([]string(nil), broker.unsubscribed...)
	broker.mu.Unlock()
	if len(unsubscribed) != 1 || unsubscribed[0] != (mqtt.Topics{}).Command() {
		t.Errorf("unsubscribed topics = %v, want only the command topic", unsubscribed)
	}
}

func TestRun_UnknownTargetAcksFailure(t *testing.T) {
	broker := &fakeBroker{}
	svc := newTestService(t, newFakeBus(), broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx) //nolint:errcheck // Shut down via cancel

	svc.queue <- CommandMessage{ID: "cmd-bad", Action: "up", Target: "attic"}

	pub := broker.find(t, mqtt.Topics{}.Ack("cmd-bad"))
	var result ResultMessage
	if err := json.Unmarshal(pub.payload, &result); err != nil {
		t.Fatalf("unmarshalling ack: %v", err)
	}
	if result.Outcome != shutter.OutcomeFailure {
		t.Errorf("outcome = %q, want failure for unknown target", result.Outcome)
	}
	if !strings.Contains(result.Error, "unknown") {
		t.Errorf("error = %q, want unknown target text", result.Error)
	}
}

func TestStop_PreemptsQueuedCommands(t *testing.T) {
	bus := newFakeBus()
	broker := &fakeBroker{}
	svc := newTestService(t, bus, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx) //nolint:errcheck // Shut down via cancel

	// One command in flight, one waiting behind it.
	svc.queue <- CommandMessage{ID: "cmd-slow", Action: "slow", Target: "living_room"}
	select {
	case <-bus.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("slow command never wrote to the bus")
	}
	svc.queue <- CommandMessage{ID: "cmd-queued", Action: "up", Target: "living_room"}

	payload := []byte(`{"id":"cmd-stop","action":"stop"}`)
	if err := svc.handleCommand("shutter/command", payload); err != nil {
		t.Fatalf("handleCommand(stop) error = %v", err)
	}

	// The queued command must not run after the stop: it is failed as
	// preempted, not executed.
	pub := broker.find(t, mqtt.Topics{}.Ack("cmd-queued"))
	var queued ResultMessage
	if err := json.Unmarshal(pub.payload, &queued); err != nil {
		t.Fatalf("unmarshalling queued ack: %v", err)
	}
	if queued.Outcome != shutter.OutcomeFailure {
		t.Errorf("queued command outcome = %q, want failure", queued.Outcome)
	}
	if !strings.Contains(queued.Error, "preempted") {
		t.Errorf("queued command error = %q, want preemption text", queued.Error)
	}

	stopPub := broker.find(t, mqtt.Topics{}.Ack("cmd-stop"))
	var stop ResultMessage
	if err := json.Unmarshal(stopPub.payload, &stop); err != nil {
		t.Fatalf("unmarshalling stop ack: %v", err)
	}
	if stop.Outcome != shutter.OutcomeSuccess {
		t.Errorf("stop outcome = %q (error %q), want success", stop.Outcome, stop.Error)
	}

	states, _ := bus.ReadAll()
	for coil, on := range states {
		if on {
			t.Errorf("coil %d still energised after stop", coil)
		}
	}
}

func TestStop_PreemptsInFlightCommand(t *testing.T) {
	bus := newFakeBus()
	broker := &fakeBroker{}
	svc := newTestService(t, bus, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx) //nolint:errcheck // Shut down via cancel

	// A 30-second move that must not run to completion
	svc.queue <- CommandMessage{ID: "cmd-slow", Action: "slow", Target: "living_room"}

	// Wait until the timeline has started driving the bus
	select {
	case <-bus.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("slow command never wrote to the bus")
	}

	payload := []byte(`{"id":"cmd-stop","action":"stop"}`)
	if err := svc.handleCommand("shutter/command", payload); err != nil {
		t.Fatalf("handleCommand(stop) error = %v", err)
	}

	// The slow command is cancelled promptly rather than sleeping 30s
	pub := broker.find(t, mqtt.Topics{}.Ack("cmd-slow"))
	var slow ResultMessage
	if err := json.Unmarshal(pub.payload, &slow); err != nil {
		t.Fatalf("unmarshalling slow ack: %v", err)
	}
	if slow.Outcome != shutter.OutcomeFailure {
		t.Errorf("preempted command outcome = %q, want failure", slow.Outcome)
	}

	// And the stop itself completes successfully
	stopPub := broker.find(t, mqtt.Topics{}.Ack("cmd-stop"))
	var stop ResultMessage
	if err := json.Unmarshal(stopPub.payload, &stop); err != nil {
		t.Fatalf("unmarshalling stop ack: %v", err)
	}
	if stop.Outcome != shutter.OutcomeSuccess {
		t.Errorf("stop outcome = %q (error %q), want success", stop.Outcome, stop.Error)
	}

	// All relays are off
	states, _ := bus.ReadAll()
	for coil, on := range states {
		if on {
			t.Errorf("coil %d still energised after stop", coil)
		}
	}
}
