package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fridge-controller/internal/sensors"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Hostname      string        `json:"hostname"`
	Sensors       []SensorJSON  `json:"sensors"`
	Setpoints     SetpointsJSON `json:"setpoints"`
	Relay         RelayJSON     `json:"relay"`
	Door          DoorJSON      `json:"door"`
	Scans         int           `json:"scans"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// SensorJSON is one probe reading. A failed reading is null.
type SensorJSON struct {
	ID           string   `json:"id"`
	TemperatureC *float64 `json:"temperature_c"`
}

// SetpointsJSON is the control range.
type SetpointsJSON struct {
	MinimumC float64 `json:"minimum_c"`
	MaximumC float64 `json:"maximum_c"`
}

// RelayJSON is the compressor relay state.
type RelayJSON struct {
	State string `json:"state"`
	Mode  string `json:"mode"`
}

// DoorJSON is the door state and transition counts.
type DoorJSON struct {
	State  string `json:"state"`
	Opened int    `json:"opened"`
	Closed int    `json:"closed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Board       string `json:"board"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	MinOffMs    int64  `json:"min_off_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

// Sensors converts readings to their JSON form.
func Sensors(devices []sensors.Device) []SensorJSON {
	out := make([]SensorJSON, 0, len(devices))
	for _, d := range devices {
		sj := SensorJSON{ID: d.ID.String()}
		if d.Valid() {
			t := d.TemperatureC
			sj.TemperatureC = &t
		}
		out = append(out, sj)
	}
	return out
}

// OnOff renders a relay state.
func OnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func buildInner(snap Snapshot) StatusInner {
	doorState := string(snap.Door)
	if doorState == "" {
		doorState = "UNKNOWN"
	}

	return StatusInner{
		Hostname:      snap.Hostname,
		Sensors:       Sensors(snap.Sensors),
		Setpoints:     SetpointsJSON{MinimumC: snap.MinimumC, MaximumC: snap.MaximumC},
		Relay:         RelayJSON{State: OnOff(snap.Relay), Mode: snap.Mode.String()},
		Door:          DoorJSON{State: doorState, Opened: snap.DoorCounts.Opened, Closed: snap.DoorCounts.Closed},
		Scans:         snap.Scans,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Board:       snap.Config.Board,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MinOffMs:    snap.Config.MinOffMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
