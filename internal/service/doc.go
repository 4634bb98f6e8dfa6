// Package service runs the MQTT command daemon.
//
// The service subscribes to shutter/command, executes each command
// through the controller, and answers on shutter/ack/{id}. After every
// command the energised relay set is published retained on
// shutter/state. Broker availability is signalled on
// shutter/system/status by the MQTT client's LWT.
//
// # Serialisation
//
// The relay board is a single shared resource, so commands execute one
// at a time in arrival order. A bounded queue absorbs bursts; commands
// beyond the queue are rejected with a failure ack rather than piling
// up behind multi-second shutter moves.
//
// # Stop preemption
//
// A stop command fails every queued command, then cancels the in-flight
// timeline, before taking its own turn. Cancellation triggers the
// executor's safety reset, so all relays are off within one event
// boundary of the stop arriving, and no queued move re-energises a
// relay afterwards.
package service
