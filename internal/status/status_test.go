package status

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

const (
	probeA sensors.ID = 0x28000000000000AA
	probeB sensors.ID = 0x28000000000000BB
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Board: "rpi", TickMs: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 10 {
		t.Errorf("Config.TickMs: got %d, want 10", snap.Config.TickMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Door != door.StateUnknown {
		t.Errorf("Door: got %q, want UNKNOWN", snap.Door)
	}
	if snap.Scans != 0 {
		t.Errorf("Scans: got %d, want 0", snap.Scans)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.UpdateSensors([]sensors.Device{{ID: probeA, TemperatureC: 4.5}})
	tr.UpdateControl(true, control.ForcedOn, 2, 6)
	tr.UpdateDoor(door.StateOpen, door.Counts{Opened: 3, Closed: 2})
	tr.SetHostname("fridge-1")

	snap := tr.Snapshot()
	if len(snap.Sensors) != 1 || snap.Sensors[0].TemperatureC != 4.5 {
		t.Errorf("Sensors: got %v", snap.Sensors)
	}
	if snap.Scans != 1 {
		t.Errorf("Scans: got %d, want 1", snap.Scans)
	}
	if !snap.Relay || snap.Mode != control.ForcedOn {
		t.Errorf("Relay/Mode: got %v/%v", snap.Relay, snap.Mode)
	}
	if snap.MinimumC != 2 || snap.MaximumC != 6 {
		t.Errorf("setpoints: got %v..%v", snap.MinimumC, snap.MaximumC)
	}
	if snap.Door != door.StateOpen || snap.DoorCounts.Opened != 3 {
		t.Errorf("Door: got %v %+v", snap.Door, snap.DoorCounts)
	}
	if snap.Hostname != "fridge-1" {
		t.Errorf("Hostname: got %q", snap.Hostname)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	devices := []sensors.Device{{ID: probeA, TemperatureC: 4}}
	tr.UpdateSensors(devices)
	devices[0].TemperatureC = 99

	snap1 := tr.Snapshot()
	if snap1.Sensors[0].TemperatureC != 4 {
		t.Error("tracker should copy the caller's slice")
	}

	snap1.Sensors[0].TemperatureC = 50
	tr.UpdateDoor(door.StateClosed, door.Counts{Closed: 1})

	snap2 := tr.Snapshot()
	if snap2.Sensors[0].TemperatureC != 4 {
		t.Error("snapshot should be a copy; sensors were modified")
	}
	if snap1.Door != door.StateUnknown {
		t.Error("snapshot should be a copy; door was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Hostname:      "fridge-1",
		Sensors:       []sensors.Device{{ID: probeA, TemperatureC: 3.25}, {ID: probeB, TemperatureC: math.NaN()}},
		Scans:         7,
		MinimumC:      2,
		MaximumC:      6,
		Relay:         true,
		Mode:          control.Auto,
		Door:          door.StateClosed,
		DoorCounts:    door.Counts{Opened: 5, Closed: 5},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Board: "rpi", TickMs: 10, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Hostname != "fridge-1" {
		t.Errorf("Hostname: got %q", s.Hostname)
	}
	if len(s.Sensors) != 2 {
		t.Fatalf("Sensors: got %d, want 2", len(s.Sensors))
	}
	if s.Sensors[0].ID != probeA.String() || s.Sensors[0].TemperatureC == nil || *s.Sensors[0].TemperatureC != 3.25 {
		t.Errorf("Sensors[0]: got %+v", s.Sensors[0])
	}
	if s.Sensors[1].TemperatureC != nil {
		t.Errorf("failed reading should be null, got %v", *s.Sensors[1].TemperatureC)
	}
	if s.Relay.State != "ON" || s.Relay.Mode != "auto" {
		t.Errorf("Relay: got %+v", s.Relay)
	}
	if s.Setpoints.MinimumC != 2 || s.Setpoints.MaximumC != 6 {
		t.Errorf("Setpoints: got %+v", s.Setpoints)
	}
	if s.Door.State != "CLOSED" || s.Door.Opened != 5 {
		t.Errorf("Door: got %+v", s.Door)
	}
	if s.Scans != 7 {
		t.Errorf("Scans: got %d, want 7", s.Scans)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Config.HeartbeatMs != 900000 {
		t.Errorf("Config.HeartbeatMs: got %d", s.Config.HeartbeatMs)
	}
	// Event and Reason should be omitted
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected empty Event/Reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONNullTemperature(t *testing.T) {
	snap := Snapshot{
		Sensors:   []sensors.Device{{ID: probeA, TemperatureC: math.NaN()}},
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)
	if !strings.Contains(string(data), `"temperature_c": null`) {
		t.Errorf("expected null temperature in %s", data)
	}
}

func TestFormatJSONUnknownDoor(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Door.State != "UNKNOWN" {
		t.Errorf("Door: got %q, want UNKNOWN", parsed.Status.Door.State)
	}
	if parsed.Status.Sensors == nil {
		t.Error("sensors should be an empty array, not null")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Relay:         false,
		Mode:          control.ForcedOff,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.Relay.State != "OFF" || parsed.Status.Relay.Mode != "off" {
		t.Errorf("Relay: got %+v", parsed.Status.Relay)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateSensors([]sensors.Device{{ID: probeA, TemperatureC: float64(i)}})
			tr.UpdateDoor(door.StateOpen, door.Counts{Opened: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
