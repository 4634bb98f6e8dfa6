package mqtt

import "fmt"

// Topic prefix for all shutterd traffic.
//
// Scheme:
//
//	shutter/command          — inbound commands (JSON CommandMessage)
//	shutter/ack/{id}         — per-command acknowledgements
//	shutter/state            — retained controller state
//	shutter/system/status    — retained online/offline status (LWT)
const (
	// TopicPrefix is the base for all shutterd topics.
	TopicPrefix = "shutter"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "shutter/system"
)

// Topics provides builders for shutterd MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Command returns the topic commands are received on.
//
// Example: shutter/command
func (Topics) Command() string {
	return fmt.Sprintf("%s/command", TopicPrefix)
}

// Ack returns the acknowledgement topic for a specific command.
//
// Example: shutter/ack/cmd-abc123
func (Topics) Ack(commandID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, commandID)
}

// State returns the retained controller state topic.
//
// Example: shutter/state
func (Topics) State() string {
	return fmt.Sprintf("%s/state", TopicPrefix)
}

// SystemStatus returns the online/offline status topic, also used as the
// Last Will and Testament topic.
//
// Example: shutter/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
