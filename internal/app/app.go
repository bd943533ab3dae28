// Package app runs the controller's cooperative event loop. Every state
// change happens inside Tick, in a fixed order: clock, network, syslog,
// sensor scanner, door, control, console and shell. Concurrent transports
// only queue input for the loop to collect.
package app

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/door"
	"github.com/sweeney/fridge-controller/internal/gpio"
	"github.com/sweeney/fridge-controller/internal/homekit"
	"github.com/sweeney/fridge-controller/internal/journal"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/metrics"
	"github.com/sweeney/fridge-controller/internal/mqtt"
	"github.com/sweeney/fridge-controller/internal/relay"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/settings"
	"github.com/sweeney/fridge-controller/internal/shell"
	"github.com/sweeney/fridge-controller/internal/status"
)

// ErrRestart is returned by the run loop when a restart was requested
// from the shell.
var ErrRestart = errors.New("restart requested")

// HomeKit is the accessory bridge as seen by the loop.
type HomeKit interface {
	Update(s homekit.State)
	Commands() <-chan control.Mode
}

// Options wires an App. Optional integrations are left nil.
type Options struct {
	Version   string
	Hostname  string
	MinOff    time.Duration
	Heartbeat time.Duration

	Clock    clock.Clock
	Now      func() time.Time
	Base     *logrus.Logger
	Logs     *logging.Broadcaster
	Syslog   *logging.Syslog
	Settings *settings.Store
	Tracker  *status.Tracker

	Relay  gpio.Output
	Buzzer gpio.Output
	Door   gpio.Input
	Bus    sensors.Bus

	Console     io.ReadWriter
	ConsoleName string

	Publisher  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Metrics    metrics.Recorder
	Journal    *journal.Journal
	HomeKit    HomeKit
	Network    func() *status.NetworkInfo
}

// App owns the hardware and every loop-driven component.
type App struct {
	opts  Options
	log   *logrus.Entry
	clock clock.Clock
	now   func() time.Time
	start time.Time

	relay   *relay.Switch
	buzzer  *relay.Switch
	scanner *sensors.Scanner
	door    *door.Monitor
	control *control.Controller
	shell   *shell.Shell
	console *shell.Console

	remote *shell.Session

	lastRelay     bool
	lastMode      control.Mode
	lastMin       float64
	lastMax       float64
	lastHeartbeat time.Time
	restart       bool
}

// New brings the outputs to a safe state and creates the loop components.
// The relay is driven off before anything else is initialised.
func New(o Options) (*App, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	a := &App{
		opts:  o,
		log:   logging.New(o.Base, "fridge", logging.Kern),
		clock: o.Clock,
		now:   o.Now,
		start: o.Now(),
	}

	var err error
	if a.relay, err = relay.New(o.Relay, logging.New(o.Base, "relay", logging.Kern)); err != nil {
		return nil, fmt.Errorf("init relay: %w", err)
	}
	if o.Buzzer != nil {
		if a.buzzer, err = relay.NewBuzzer(o.Buzzer, logging.New(o.Base, "buzzer", logging.Kern)); err != nil {
			return nil, fmt.Errorf("init buzzer: %w", err)
		}
	}

	now := a.clock.Millis()
	a.scanner = sensors.NewScanner(o.Bus, logging.New(o.Base, "sensors", logging.Daemon), now)
	a.door = door.NewMonitor(o.Door, logging.New(o.Base, "door", logging.Daemon))
	a.control = control.NewController(a.relay, o.Settings, logging.New(o.Base, "control", logging.Kern),
		uint32(o.MinOff.Milliseconds()), now)

	a.shell = shell.New(shell.Builtin(), a.env(), o.Base, o.Logs)
	if o.Console != nil {
		a.console = shell.NewConsole(a.shell, o.Console, o.ConsoleName)
	}

	a.lastMin, a.lastMax = o.Settings.Minimum(), o.Settings.Maximum()
	a.lastHeartbeat = a.start
	a.applySyslog()
	if o.Tracker != nil {
		o.Tracker.SetHostname(a.Hostname())
	}
	return a, nil
}

func (a *App) env() *shell.Env {
	e := &shell.Env{
		Version:  a.opts.Version,
		Settings: a.opts.Settings,
		Hostname: a.Hostname,
		Devices:  func() []sensors.Device { return a.scanner.Devices() },
		Control:  a.control,
		Relay:    func() bool { return a.relay.On() },
		Door: func() (door.State, door.Counts) {
			return a.door.State(), a.door.Counts()
		},
		Network:     a.networkLines,
		Uptime:      a.Uptime,
		ApplySyslog: a.applySyslog,
		Restart:     a.requestRestart,
	}
	if a.opts.Journal != nil {
		e.History = a.opts.Journal.Lines
	}
	return e
}

// Console returns the serial console, or nil.
func (a *App) Console() *shell.Console { return a.console }

// Shell returns the shell for transports that open their own sessions.
func (a *App) Shell() *shell.Shell { return a.shell }

// Hostname returns the configured hostname, or the default derived at
// startup.
func (a *App) Hostname() string {
	if h := a.opts.Settings.Values().Hostname; h != "" {
		return h
	}
	return a.opts.Hostname
}

// Uptime returns the time since New.
func (a *App) Uptime() time.Duration {
	return a.now().Sub(a.start)
}

// Restarting reports whether a restart was requested.
func (a *App) Restarting() bool {
	return a.restart
}

func (a *App) requestRestart() {
	a.restart = true
}

func (a *App) applySyslog() {
	if a.opts.Syslog == nil {
		return
	}
	v := a.opts.Settings.Values()
	level, err := logging.ParseLevel(v.SyslogLevel)
	if err != nil {
		a.log.Warnf("Invalid syslog level %q, using info", v.SyslogLevel)
		level = logging.Info
	}
	a.opts.Syslog.Configure(v.SyslogHost, level, time.Duration(v.SyslogMarkInterval)*time.Second)
}

func (a *App) networkLines() []string {
	var lines []string
	if a.opts.Network != nil {
		if n := a.opts.Network(); n != nil {
			lines = append(lines,
				"Network: "+n.Status+" ("+n.Type+")",
				"IP address: "+n.IP,
				"Gateway: "+n.Gateway)
			if n.SSID != "" {
				lines = append(lines, "WiFi: "+n.SSID+" "+n.WifiStatus)
			}
		}
	}
	if a.opts.MQTTStatus != nil {
		state := "disconnected"
		if a.opts.MQTTStatus.IsConnected() {
			state = "connected"
		}
		lines = append(lines, "MQTT: "+state)
	}
	if len(lines) == 0 {
		lines = append(lines, "Network: unknown")
	}
	return lines
}

// Startup logs the start and publishes the retained STARTUP event.
func (a *App) Startup() {
	t := a.now()
	a.log.Infof("System startup (fridge %s)", a.opts.Version)
	a.record(t, journal.KindSystem, "Startup (fridge %s)", a.opts.Version)
	a.publishSystem(t, "STARTUP", "", true)
}

// Shutdown publishes the retained SHUTDOWN event, ends every session and
// turns the outputs off.
func (a *App) Shutdown(reason string) {
	t := a.now()
	a.log.Infof("System shutdown (%s)", reason)
	a.record(t, journal.KindSystem, "Shutdown (%s)", reason)
	a.publishSystem(t, "SHUTDOWN", reason, true)

	a.shell.Shutdown()
	if err := a.relay.Set(false); err != nil {
		a.log.Errorf("Turning relay off failed: %v", err)
	}
	if a.buzzer != nil {
		if err := a.buzzer.Set(false); err != nil {
			a.log.Errorf("Turning buzzer off failed: %v", err)
		}
	}
}

// Tick runs one loop iteration.
func (a *App) Tick() {
	now := a.clock.Millis()
	t := a.now()

	a.tickNetwork(now)
	if a.opts.Syslog != nil {
		a.opts.Syslog.Tick(t)
	}

	if a.scanner.Tick(now) {
		a.scanCompleted(t)
	}
	if ev := a.door.Tick(now); ev != nil {
		a.doorChanged(t, ev.State)
	}

	a.control.Tick(now, a.scanner.Devices())
	a.checkControl(t)

	if a.console != nil {
		a.console.Tick(now)
	}
	a.shell.Tick(now)

	a.heartbeat(t)
	a.updateTracker()
}

// tickNetwork collects remote input: HomeKit override requests and MQTT
// console lines.
func (a *App) tickNetwork(now uint32) {
	if a.opts.HomeKit != nil {
	commands:
		for {
			select {
			case m := <-a.opts.HomeKit.Commands():
				a.control.SetMode(m)
			default:
				break commands
			}
		}
	}

	if a.opts.Publisher == nil {
		return
	}
	if a.remote != nil {
		select {
		case <-a.remote.Done():
			a.remote = nil
		default:
		}
	}
	for {
		select {
		case line := <-a.opts.Publisher.ConsoleInput():
			if a.remote == nil {
				a.remote = a.shell.Attach(now, "mqtt", shell.NewLineWriter(a.opts.Publisher.PublishConsole), shell.User, false)
			}
			a.remote.Input([]byte(line + "\n"))
		default:
			return
		}
	}
}

func (a *App) scanCompleted(t time.Time) {
	devices := a.scanner.Devices()
	if a.opts.Tracker != nil {
		a.opts.Tracker.UpdateSensors(devices)
	}
	if a.opts.Publisher != nil {
		if err := a.opts.Publisher.PublishSensors(t, devices); err != nil {
			a.log.Warnf("Publishing sensors failed: %v", err)
		}
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordScan(t, devices)
	}
	a.updateHomeKit(devices)
}

func (a *App) doorChanged(t time.Time, state door.State) {
	counts := a.door.Counts()
	a.record(t, journal.KindDoor, "Door %s", state)
	if a.opts.Publisher != nil {
		if err := a.opts.Publisher.PublishDoor(mqtt.DoorEvent{Timestamp: t, State: state, Counts: counts}); err != nil {
			a.log.Warnf("Publishing door event failed: %v", err)
		}
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordDoor(t, state)
	}
}

// checkControl reports relay, mode and setpoint changes made during this
// tick.
func (a *App) checkControl(t time.Time) {
	on, mode := a.relay.On(), a.control.Mode()
	if on != a.lastRelay || mode != a.lastMode {
		a.lastRelay, a.lastMode = on, mode
		a.record(t, journal.KindRelay, "Relay %s (%s)", status.OnOff(on), mode)
		if a.opts.Publisher != nil {
			if err := a.opts.Publisher.PublishRelay(mqtt.RelayEvent{Timestamp: t, On: on, Mode: mode}); err != nil {
				a.log.Warnf("Publishing relay event failed: %v", err)
			}
		}
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordRelay(t, on)
		}
		a.updateHomeKit(a.scanner.Devices())
	}

	minC, maxC := a.opts.Settings.Minimum(), a.opts.Settings.Maximum()
	if minC != a.lastMin || maxC != a.lastMax {
		a.lastMin, a.lastMax = minC, maxC
		a.record(t, journal.KindSetpoint, "Range %.2fC to %.2fC", minC, maxC)
	}
}

func (a *App) updateHomeKit(devices []sensors.Device) {
	if a.opts.HomeKit == nil {
		return
	}
	s := homekit.State{Relay: a.relay.On(), Mode: a.control.Mode(), TemperatureC: math.Inf(-1)}
	for _, d := range devices {
		if d.Valid() && d.TemperatureC > s.TemperatureC {
			s.TemperatureC = d.TemperatureC
			s.Valid = true
		}
	}
	if !s.Valid {
		s.TemperatureC = 0
	}
	a.opts.HomeKit.Update(s)
}

func (a *App) heartbeat(t time.Time) {
	if a.opts.Heartbeat <= 0 || t.Sub(a.lastHeartbeat) < a.opts.Heartbeat {
		return
	}
	a.lastHeartbeat = t
	a.log.Debugf("Heartbeat: uptime=%v opened=%d", a.Uptime().Truncate(time.Second), a.door.Counts().Opened)
	if a.opts.Tracker != nil && a.opts.Network != nil {
		if n := a.opts.Network(); n != nil {
			a.opts.Tracker.SetNetwork(n)
		}
	}
	a.publishSystem(t, "HEARTBEAT", "", false)
}

func (a *App) updateTracker() {
	tr := a.opts.Tracker
	if tr == nil {
		return
	}
	tr.UpdateControl(a.relay.On(), a.control.Mode(), a.opts.Settings.Minimum(), a.opts.Settings.Maximum())
	tr.UpdateDoor(a.door.State(), a.door.Counts())
	tr.SetHostname(a.Hostname())
	if a.opts.MQTTStatus != nil {
		tr.SetMQTTConnected(a.opts.MQTTStatus.IsConnected())
	}
}

func (a *App) publishSystem(t time.Time, event, reason string, retained bool) {
	if a.opts.Publisher == nil {
		return
	}
	ev := mqtt.SystemEvent{Timestamp: t, Event: event, Reason: reason, Retained: retained}
	if a.opts.Tracker != nil {
		a.updateTracker()
		ev.RawPayload = status.FormatStatusEvent(a.opts.Tracker.Snapshot(), event, reason)
	}
	if err := a.opts.Publisher.PublishSystem(ev); err != nil {
		a.log.Warnf("Publishing %s event failed: %v", event, err)
	}
}

func (a *App) record(t time.Time, kind journal.Kind, format string, args ...interface{}) {
	if a.opts.Journal != nil {
		a.opts.Journal.Record(t, kind, format, args...)
	}
}
