package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/fridge-controller/internal/app"
	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/mqtt"
	"github.com/sweeney/fridge-controller/internal/onewire"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/settings"
	"github.com/sweeney/fridge-controller/internal/status"
)

type payloads struct {
	sensors []map[string]interface{}
	door    []map[string]interface{}
	relay   []map[string]interface{}
}

func decodePayloads(t *testing.T, raw [][]byte) payloads {
	t.Helper()
	var p payloads
	for _, data := range raw {
		var msg map[string]map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid JSON %s: %v", data, err)
		}
		switch {
		case msg["sensors"] != nil:
			p.sensors = append(p.sensors, msg["sensors"])
		case msg["door"] != nil:
			p.door = append(p.door, msg["door"])
		case msg["relay"] != nil:
			p.relay = append(p.relay, msg["relay"])
		default:
			t.Fatalf("unexpected payload %s", data)
		}
	}
	return p
}

// TestIntegrationFullFlow runs probe, door and relay through the event loop
// to the MQTT payloads using fakes: the fridge warms up, the compressor
// starts, the door opens, and the fridge cools down again.
func TestIntegrationFullFlow(t *testing.T) {
	base, _ := test.NewNullLogger()

	rom := [onewire.ROMLen]byte{0x28, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	rom[7] = onewire.CRC8(rom[:7])
	probe := &onewire.FakeDevice{ROM: rom, Scratchpad: sensors.NewScratchpad(0x0060, 12)} // 6.0C

	relayOut := gpio.NewFakeOutput()
	doorIn := gpio.NewFakeInput(true)
	pub := mqtt.NewFakePublisher()
	clk := clock.NewFake(0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := app.New(app.Options{
		Version:   "test",
		Hostname:  "fridge-test",
		Clock:     clk,
		Now:       func() time.Time { return now },
		Base:      base,
		Settings:  settings.Open(t.TempDir(), logging.New(base, "settings", logging.Daemon)),
		Tracker:   status.NewTracker(now, status.Config{}),
		Relay:     relayOut,
		Door:      doorIn,
		Bus:       onewire.NewBus(onewire.NewFakeLine(probe)),
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run := func(ms int) {
		for i := 0; i < ms/10; i++ {
			clk.Advance(10)
			now = now.Add(10 * time.Millisecond)
			a.Tick()
		}
	}

	// first scan at 6.0C is above the default 5.0C maximum
	run(1500)
	if on, _ := relayOut.Level(); !on {
		t.Fatal("relay off after warm scan")
	}

	doorIn.Set(false)
	run(100)

	// 2.0C is below the 3.0C minimum
	probe.Scratchpad = sensors.NewScratchpad(0x0020, 12)
	run(1500)
	if on, _ := relayOut.Level(); on {
		t.Fatal("relay on after cold scan")
	}

	p := decodePayloads(t, pub.Payloads)

	if len(p.sensors) < 2 {
		t.Fatalf("sensor payloads = %d, want >= 2", len(p.sensors))
	}
	readings := p.sensors[0]["readings"].([]interface{})
	first := readings[0].(map[string]interface{})
	if want := sensors.IDFromROM(rom).String(); first["id"] != want {
		t.Errorf("reading id = %v, want %s", first["id"], want)
	}
	if first["temperature_c"] != 6.0 {
		t.Errorf("first temperature = %v, want 6", first["temperature_c"])
	}

	if len(p.door) != 2 || p.door[0]["state"] != "CLOSED" || p.door[1]["state"] != "OPEN" {
		t.Fatalf("door payloads = %v", p.door)
	}
	if p.door[1]["opened"] != 1.0 {
		t.Errorf("opened = %v, want 1", p.door[1]["opened"])
	}

	if len(p.relay) != 2 {
		t.Fatalf("relay payloads = %v", p.relay)
	}
	if p.relay[0]["state"] != "ON" || p.relay[0]["mode"] != "auto" {
		t.Errorf("first relay payload = %v", p.relay[0])
	}
	if p.relay[1]["state"] != "OFF" {
		t.Errorf("second relay payload = %v", p.relay[1])
	}
}
