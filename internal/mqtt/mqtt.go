// Package mqtt provides MQTT telemetry publishing and the remote console
// transport, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/status"
)

// DefaultPrefix returns the topic prefix used when none is configured.
func DefaultPrefix(hostname string) string {
	return "fridge/" + hostname
}

// Topics holds the topic names derived from a prefix.
type Topics struct {
	Sensors    string
	Door       string
	Relay      string
	System     string
	ConsoleIn  string
	ConsoleOut string
}

// NewTopics derives every topic from prefix.
func NewTopics(prefix string) Topics {
	return Topics{
		Sensors:    prefix + "/sensors",
		Door:       prefix + "/door",
		Relay:      prefix + "/relay",
		System:     prefix + "/system",
		ConsoleIn:  prefix + "/console/in",
		ConsoleOut: prefix + "/console/out",
	}
}

// Publisher publishes telemetry to MQTT and carries console lines.
type Publisher interface {
	// PublishSensors sends the readings from a completed scan.
	// Returns error if publishing fails (should not crash the process).
	PublishSensors(ts time.Time, devices []sensors.Device) error

	// PublishDoor sends a debounced door transition.
	PublishDoor(event DoorEvent) error

	// PublishRelay sends a compressor relay change.
	PublishRelay(event RelayEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishConsole sends one line of shell output.
	PublishConsole(line string) error

	// ConsoleInput delivers lines received on the console input topic.
	ConsoleInput() <-chan string

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// DoorEvent is a debounced door transition.
type DoorEvent struct {
	Timestamp time.Time
	State     door.State
	Counts    door.Counts
}

// RelayEvent is a change of compressor relay output.
type RelayEvent struct {
	Timestamp time.Time
	On        bool
	Mode      control.Mode
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "restart" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SensorsPayload is the message published after each scan.
type SensorsPayload struct {
	Sensors SensorsInner `json:"sensors"`
}

// SensorsInner contains the readings. A failed reading is null.
type SensorsInner struct {
	Timestamp string              `json:"timestamp"`
	Readings  []status.SensorJSON `json:"readings"`
}

// FormatSensorsPayload creates the JSON payload for a scan.
func FormatSensorsPayload(ts time.Time, devices []sensors.Device) ([]byte, error) {
	return json.Marshal(SensorsPayload{
		Sensors: SensorsInner{
			Timestamp: ts.UTC().Format(time.RFC3339),
			Readings:  status.Sensors(devices),
		},
	})
}

// DoorPayload is the message published on a door transition.
type DoorPayload struct {
	Door DoorInner `json:"door"`
}

// DoorInner contains the door event details.
type DoorInner struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Opened    int    `json:"opened"`
	Closed    int    `json:"closed"`
}

// FormatDoorPayload creates the JSON payload for a door event.
func FormatDoorPayload(event DoorEvent) ([]byte, error) {
	return json.Marshal(DoorPayload{
		Door: DoorInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			State:     string(event.State),
			Opened:    event.Counts.Opened,
			Closed:    event.Counts.Closed,
		},
	})
}

// RelayPayload is the message published on a relay change.
type RelayPayload struct {
	Relay RelayInner `json:"relay"`
}

// RelayInner contains the relay event details.
type RelayInner struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Mode      string `json:"mode"`
}

// FormatRelayPayload creates the JSON payload for a relay event.
func FormatRelayPayload(event RelayEvent) ([]byte, error) {
	return json.Marshal(RelayPayload{
		Relay: RelayInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			State:     status.OnOff(event.On),
			Mode:      event.Mode.String(),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
