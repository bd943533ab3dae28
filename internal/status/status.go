// Package status provides a thread-safe status tracker for the fridge
// daemon. The event loop writes it; HTTP handlers and MQTT system events
// read value snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Board       string
	TickMs      int64
	HeartbeatMs int64
	MinOffMs    int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Hostname      string
	Sensors       []sensors.Device
	Scans         int
	MinimumC      float64
	MaximumC      float64
	Relay         bool
	Mode          control.Mode
	Door          door.State
	DoorCounts    door.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Door:      door.StateUnknown,
			Config:    cfg,
		},
	}
}

// UpdateSensors records the registry from a completed scan.
func (t *Tracker) UpdateSensors(devices []sensors.Device) {
	cp := append([]sensors.Device(nil), devices...)
	t.mu.Lock()
	t.snap.Sensors = cp
	t.snap.Scans++
	t.mu.Unlock()
}

// UpdateControl records the relay state, override mode and setpoints.
func (t *Tracker) UpdateControl(relay bool, mode control.Mode, minC, maxC float64) {
	t.mu.Lock()
	t.snap.Relay = relay
	t.snap.Mode = mode
	t.snap.MinimumC = minC
	t.snap.MaximumC = maxC
	t.mu.Unlock()
}

// UpdateDoor records the debounced door state and transition counts.
func (t *Tracker) UpdateDoor(state door.State, counts door.Counts) {
	t.mu.Lock()
	t.snap.Door = state
	t.snap.DoorCounts = counts
	t.mu.Unlock()
}

// SetHostname sets the name reported in status output.
func (t *Tracker) SetHostname(name string) {
	t.mu.Lock()
	t.snap.Hostname = name
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Sensors = append([]sensors.Device(nil), t.snap.Sensors...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
