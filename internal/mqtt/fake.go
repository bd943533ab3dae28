package mqtt

import (
	"time"

	"github.com/sweeney/fridge-controller/internal/sensors"
)

// FakePublisher records published messages for test assertions.
// Not safe for concurrent use.
type FakePublisher struct {
	// Scans contains the readings of every published scan.
	Scans [][]sensors.Device

	// DoorEvents and RelayEvents contain the published transitions.
	DoorEvents  []DoorEvent
	RelayEvents []RelayEvent

	// Payloads contains the JSON payloads of sensor, door and relay messages.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// ConsoleLines contains the shell output that was published.
	ConsoleLines []string

	// ConsoleIn feeds ConsoleInput.
	ConsoleIn chan string

	// PublishError, if set, will be returned by the telemetry publishers.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{ConsoleIn: make(chan string, 16)}
}

// PublishSensors records the scan.
func (f *FakePublisher) PublishSensors(ts time.Time, devices []sensors.Device) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSensorsPayload(ts, devices)
	if err != nil {
		return err
	}
	f.Scans = append(f.Scans, append([]sensors.Device(nil), devices...))
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishDoor records the door event.
func (f *FakePublisher) PublishDoor(event DoorEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatDoorPayload(event)
	if err != nil {
		return err
	}
	f.DoorEvents = append(f.DoorEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishRelay records the relay event.
func (f *FakePublisher) PublishRelay(event RelayEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatRelayPayload(event)
	if err != nil {
		return err
	}
	f.RelayEvents = append(f.RelayEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// PublishConsole records a line of shell output.
func (f *FakePublisher) PublishConsole(line string) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.ConsoleLines = append(f.ConsoleLines, line)
	return nil
}

// ConsoleInput returns the ConsoleIn channel.
func (f *FakePublisher) ConsoleInput() <-chan string {
	return f.ConsoleIn
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Scans = nil
	f.DoorEvents = nil
	f.RelayEvents = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.ConsoleLines = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
