package app

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/homekit"
	"github.com/sweeney/fridge-controller/internal/journal"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/metrics"
	"github.com/sweeney/fridge-controller/internal/mqtt"
	"github.com/sweeney/fridge-controller/internal/onewire"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/settings"
	"github.com/sweeney/fridge-controller/internal/shell"
	"github.com/sweeney/fridge-controller/internal/status"
)

type fakeHomeKit struct {
	commands chan control.Mode
	states   []homekit.State
}

func (f *fakeHomeKit) Update(s homekit.State)        { f.states = append(f.states, s) }
func (f *fakeHomeKit) Commands() <-chan control.Mode { return f.commands }

type harness struct {
	t       *testing.T
	app     *App
	clk     *clock.Fake
	now     time.Time
	hook    *test.Hook
	relay   *gpio.FakeOutput
	buzzer  *gpio.FakeOutput
	door    *gpio.FakeInput
	probe   *onewire.FakeDevice
	pub     *mqtt.FakePublisher
	metrics *metrics.Fake
	journal *journal.Journal
	hk      *fakeHomeKit
	store   *settings.Store
	tracker *status.Tracker
}

func testROM(serial byte) [onewire.ROMLen]byte {
	rom := [onewire.ROMLen]byte{0x28, serial, 0, 0, 0, 0, 0}
	rom[7] = onewire.CRC8(rom[:7])
	return rom
}

func newHarness(t *testing.T, raw int16) *harness {
	t.Helper()
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.TraceLevel)

	h := &harness{
		t:       t,
		clk:     clock.NewFake(0),
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		hook:    hook,
		relay:   gpio.NewFakeOutput(),
		buzzer:  gpio.NewFakeOutput(),
		door:    gpio.NewFakeInput(true),
		probe:   &onewire.FakeDevice{ROM: testROM(1), Scratchpad: sensors.NewScratchpad(raw, 12)},
		pub:     mqtt.NewFakePublisher(),
		metrics: &metrics.Fake{},
		hk:      &fakeHomeKit{commands: make(chan control.Mode, 4)},
	}
	h.store = settings.Open(t.TempDir(), logging.New(base, "settings", logging.Daemon))

	var err error
	h.journal, err = journal.Open("", logging.New(base, "journal", logging.Daemon))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	h.tracker = status.NewTracker(h.now, status.Config{Board: "test"})

	h.app, err = New(Options{
		Version:     "test",
		Hostname:    "fridge-test",
		Heartbeat:   time.Minute,
		Clock:       h.clk,
		Now:         func() time.Time { return h.now },
		Base:        base,
		Logs:        logging.NewBroadcaster(),
		Settings:    h.store,
		Tracker:     h.tracker,
		Relay:       h.relay,
		Buzzer:      h.buzzer,
		Door:        h.door,
		Bus:         onewire.NewBus(onewire.NewFakeLine(h.probe)),
		Publisher:   h.pub,
		MQTTStatus:  h.pub,
		Metrics:     h.metrics,
		Journal:     h.journal,
		HomeKit:     h.hk,
		ConsoleName: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// tick advances both clocks by ms and runs one loop iteration.
func (h *harness) tick(ms uint32) {
	h.clk.Advance(ms)
	h.now = h.now.Add(time.Duration(ms) * time.Millisecond)
	h.app.Tick()
}

// run ticks every 10ms until cond holds.
func (h *harness) run(what string, cond func() bool) {
	h.t.Helper()
	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		h.tick(10)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) relayOn() bool {
	level, _ := h.relay.Level()
	return level
}

func TestNewDrivesOutputsOff(t *testing.T) {
	h := newHarness(t, 0x0191)

	if level, set := h.relay.Level(); !set || level {
		t.Errorf("relay level = %v (set %v), want driven low", level, set)
	}
	// buzzer is active-low
	if level, set := h.buzzer.Level(); !set || !level {
		t.Errorf("buzzer level = %v (set %v), want driven high", level, set)
	}
}

func TestScanFansOut(t *testing.T) {
	h := newHarness(t, 0x0191)

	h.run("scan", func() bool { return len(h.pub.Scans) > 0 })

	got := h.pub.Scans[0]
	if len(got) != 1 || got[0].TemperatureC != 25.0625 {
		t.Fatalf("published scan = %v", got)
	}
	if len(h.metrics.Scans) != 1 {
		t.Errorf("metrics scans = %d, want 1", len(h.metrics.Scans))
	}
	snap := h.tracker.Snapshot()
	if snap.Scans != 1 || len(snap.Sensors) != 1 {
		t.Errorf("tracker scans=%d sensors=%d", snap.Scans, len(snap.Sensors))
	}
	if len(h.hk.states) == 0 {
		t.Fatal("no HomeKit update")
	}
	last := h.hk.states[len(h.hk.states)-1]
	if !last.Valid || last.TemperatureC != 25.0625 {
		t.Errorf("HomeKit state = %+v", last)
	}
}

func TestAutoControlRespectsMinimumOffTime(t *testing.T) {
	h := newHarness(t, 0x0191)
	h.app.control = control.NewController(h.app.relay, h.store, h.app.log, 5000, h.clk.Millis())

	h.run("scan", func() bool { return len(h.pub.Scans) > 0 })
	if h.relayOn() {
		t.Fatal("relay on before minimum off time elapsed")
	}

	h.run("relay on", h.relayOn)
	if h.clk.Millis() < 5000 {
		t.Errorf("relay on at %dms, want >= 5000", h.clk.Millis())
	}
	if len(h.pub.RelayEvents) != 1 || !h.pub.RelayEvents[0].On || h.pub.RelayEvents[0].Mode != control.Auto {
		t.Errorf("relay events = %+v", h.pub.RelayEvents)
	}
	if len(h.metrics.Relay) != 1 || !h.metrics.Relay[0] {
		t.Errorf("metrics relay = %v", h.metrics.Relay)
	}
	if !h.tracker.Snapshot().Relay {
		t.Error("tracker relay = off")
	}
}

func TestColdProbeKeepsRelayOff(t *testing.T) {
	// 1.0C is below the default minimum
	h := newHarness(t, 0x0010)

	h.run("scan", func() bool { return len(h.pub.Scans) > 0 })
	for i := 0; i < 20; i++ {
		h.tick(10)
	}
	if h.relayOn() {
		t.Error("relay on below minimum")
	}
	if len(h.pub.RelayEvents) != 0 {
		t.Errorf("relay events = %+v", h.pub.RelayEvents)
	}
}

func TestDoorEvents(t *testing.T) {
	h := newHarness(t, 0x0010)

	h.run("door closed", func() bool { return len(h.pub.DoorEvents) == 1 })
	if h.pub.DoorEvents[0].State != door.StateClosed {
		t.Fatalf("first door event = %+v", h.pub.DoorEvents[0])
	}

	h.door.Set(false)
	h.run("door open", func() bool { return len(h.pub.DoorEvents) == 2 })
	ev := h.pub.DoorEvents[1]
	if ev.State != door.StateOpen || ev.Counts.Opened != 1 || ev.Counts.Closed != 1 {
		t.Errorf("door event = %+v", ev)
	}
	if got := h.metrics.Door; len(got) != 2 || got[1] != door.StateOpen {
		t.Errorf("metrics door = %v", got)
	}
	if snap := h.tracker.Snapshot(); snap.Door != door.StateOpen || snap.DoorCounts.Opened != 1 {
		t.Errorf("tracker door = %s %+v", snap.Door, snap.DoorCounts)
	}

	history := strings.Join(h.journal.Lines(10), "\n")
	if !strings.Contains(history, "Door OPEN") {
		t.Errorf("journal missing door open:\n%s", history)
	}
}

func TestHomeKitOverride(t *testing.T) {
	h := newHarness(t, 0x0010)

	h.hk.commands <- control.ForcedOn
	h.tick(10)

	if !h.relayOn() {
		t.Fatal("relay off after forced on")
	}
	if h.app.control.Mode() != control.ForcedOn {
		t.Errorf("mode = %s", h.app.control.Mode())
	}
	if len(h.pub.RelayEvents) != 1 || h.pub.RelayEvents[0].Mode != control.ForcedOn {
		t.Errorf("relay events = %+v", h.pub.RelayEvents)
	}
	last := h.hk.states[len(h.hk.states)-1]
	if !last.Relay || last.Mode != control.ForcedOn {
		t.Errorf("HomeKit state = %+v", last)
	}

	h.hk.commands <- control.ForcedOff
	h.tick(10)
	if h.relayOn() {
		t.Error("relay on after forced off")
	}
}

func TestMQTTConsole(t *testing.T) {
	h := newHarness(t, 0x0010)

	h.pub.ConsoleIn <- "show version"
	h.tick(10)
	h.tick(10)

	out := strings.Join(h.pub.ConsoleLines, "\n")
	if !strings.Contains(out, "Version: test") {
		t.Errorf("console output missing version:\n%s", out)
	}

	// logout ends the session; the next line opens a new one
	first := h.app.remote
	h.pub.ConsoleIn <- "logout"
	h.tick(10)
	select {
	case <-first.Done():
	default:
		t.Fatal("session still running after logout")
	}
	h.pub.ConsoleIn <- "show version"
	h.tick(10)
	if h.app.remote == nil || h.app.remote == first {
		t.Error("no new session after logout")
	}
}

func TestMQTTConsoleWhileWebSessionsWaiting(t *testing.T) {
	h := newHarness(t, 0x0010)

	// transports open sessions until the start queue is full
	for {
		if _, err := h.app.shell.Open("ws", io.Discard, shell.User, false); err != nil {
			break
		}
	}

	h.pub.ConsoleIn <- "show version"
	done := make(chan struct{})
	go func() {
		h.tick(10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop blocked opening the MQTT session")
	}

	h.tick(10)
	if !strings.Contains(strings.Join(h.pub.ConsoleLines, "\n"), "Version: test") {
		t.Errorf("console output missing version:\n%s", strings.Join(h.pub.ConsoleLines, "\n"))
	}
	if n := h.app.shell.Sessions(); n != 9 {
		t.Errorf("sessions: got %d, want 9", n)
	}
}

func TestSetpointChangeJournalled(t *testing.T) {
	h := newHarness(t, 0x0010)

	if _, err := h.store.SetMaximum(8); err != nil {
		t.Fatalf("SetMaximum: %v", err)
	}
	h.tick(10)

	history := strings.Join(h.journal.Lines(10), "\n")
	if !strings.Contains(history, "Range 3.00C to 8.00C") {
		t.Errorf("journal missing range change:\n%s", history)
	}
	if snap := h.tracker.Snapshot(); snap.MaximumC != 8 {
		t.Errorf("tracker maximum = %v", snap.MaximumC)
	}
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, 0x0010)

	h.tick(10)
	if len(h.pub.SystemEvents) != 0 {
		t.Fatalf("early system events = %+v", h.pub.SystemEvents)
	}

	h.now = h.now.Add(time.Minute)
	h.tick(10)
	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("system events = %+v", h.pub.SystemEvents)
	}
	ev := h.pub.SystemEvents[0]
	if ev.Event != "HEARTBEAT" || ev.Retained || len(ev.RawPayload) == 0 {
		t.Errorf("heartbeat = %+v", ev)
	}
}

func TestStartupAndShutdown(t *testing.T) {
	h := newHarness(t, 0x0010)

	h.app.Startup()
	h.hk.commands <- control.ForcedOn
	h.tick(10)
	h.app.Shutdown("SIGTERM")

	if len(h.pub.SystemEvents) != 2 {
		t.Fatalf("system events = %+v", h.pub.SystemEvents)
	}
	start, stop := h.pub.SystemEvents[0], h.pub.SystemEvents[1]
	if start.Event != "STARTUP" || !start.Retained {
		t.Errorf("startup = %+v", start)
	}
	if stop.Event != "SHUTDOWN" || stop.Reason != "SIGTERM" || !stop.Retained {
		t.Errorf("shutdown = %+v", stop)
	}
	if !strings.Contains(string(stop.RawPayload), `"reason":"SIGTERM"`) {
		t.Errorf("shutdown payload = %s", stop.RawPayload)
	}
	if h.relayOn() {
		t.Error("relay on after shutdown")
	}

	found := false
	for _, e := range h.hook.AllEntries() {
		if e.Message == "System startup (fridge test)" {
			found = true
		}
	}
	if !found {
		t.Error("startup not logged")
	}
}

func TestRestartRequest(t *testing.T) {
	h := newHarness(t, 0x0010)

	if h.app.Restarting() {
		t.Fatal("restarting before request")
	}
	h.app.env().Restart()
	if !h.app.Restarting() {
		t.Error("restart not recorded")
	}
}

func TestHostnameFromSettings(t *testing.T) {
	h := newHarness(t, 0x0010)

	if got := h.app.Hostname(); got != "fridge-test" {
		t.Errorf("default hostname = %q", got)
	}
	h.store.SetHostname("kitchen")
	h.tick(10)
	if got := h.tracker.Snapshot().Hostname; got != "kitchen" {
		t.Errorf("tracker hostname = %q", got)
	}
}

func TestNetworkLines(t *testing.T) {
	h := newHarness(t, 0x0010)
	h.app.opts.Network = func() *status.NetworkInfo {
		return &status.NetworkInfo{Type: "wifi", IP: "192.168.1.20", Status: "connected", Gateway: "192.168.1.1", SSID: "home", WifiStatus: "up"}
	}
	h.pub.Connected = true

	got := strings.Join(h.app.networkLines(), "\n")
	for _, want := range []string{"Network: connected (wifi)", "IP address: 192.168.1.20", "WiFi: home up", "MQTT: connected"} {
		if !strings.Contains(got, want) {
			t.Errorf("network lines missing %q:\n%s", want, got)
		}
	}
}
