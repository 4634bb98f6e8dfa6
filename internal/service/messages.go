package service

import "time"

// CommandMessage is the JSON payload accepted on shutter/command.
//
// ID is optional; one is generated when absent so every command can be
// acknowledged. Target is ignored for the stop action.
type CommandMessage struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// ResultMessage is the JSON payload published on shutter/ack/{id} after a
// command finishes.
type ResultMessage struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Target     string `json:"target,omitempty"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// StateMessage is the retained JSON payload on shutter/state describing
// the relays currently energised.
type StateMessage struct {
	ActiveRelays []int  `json:"active_relays"`
	UpdatedAt    string `json:"updated_at"`
}

// newTimestamp formats the current instant for message payloads.
func newTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
