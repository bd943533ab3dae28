package shell

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/fridge-controller/internal/control"
	"github.com/sweeney/fridge-controller/internal/logging"
	"github.com/sweeney/fridge-controller/internal/sensors"
	"github.com/sweeney/fridge-controller/internal/settings"
)

const historyLines = 20

// Builtin returns the registry of fridge commands.
func Builtin() *Commands {
	c := NewCommands()

	levels := func(*Session, []string) []string { return logging.LevelNames() }

	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"help"}, Run: help})
	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"exit"}, Run: mainExit})
	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"logout"}, Run: mainLogout})
	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"su"}, Run: su})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"passwd"}, Run: passwd})
	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"console", "log"}, Args: []string{"[level]"}, Run: consoleLog, Complete: levels})

	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"show"}, Run: showAll})
	for name, fn := range showSections {
		c.Add(Command{Context: MainContext, Flags: User, Path: []string{"show", name}, Run: fn})
	}

	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"sensor"}, Args: []string{"<id>"}, Run: enterSensor, Complete: sensorIDs})
	c.Add(Command{Context: SensorContext, Flags: User, Path: []string{"show"}, Run: sensorShow})
	c.Add(Command{Context: SensorContext, Flags: User, Path: []string{"help"}, Run: help})
	c.Add(Command{Context: SensorContext, Flags: User, Path: []string{"exit"}, Run: sensorExit})
	c.Add(Command{Context: SensorContext, Flags: User, Path: []string{"logout"}, Run: sensorLogout})

	for _, m := range []control.Mode{control.ForcedOn, control.ForcedOff, control.Auto} {
		mode := m
		c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"relay", mode.String()}, Run: func(s *Session, _ []string) {
			setRelayMode(s, mode)
		}})
	}

	c.Add(Command{Context: MainContext, Flags: User, Path: []string{"set"}, Run: showSettings})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"set", "minimum"}, Args: []string{"<°C>"}, Run: setMinimum})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"set", "maximum"}, Args: []string{"<°C>"}, Run: setMaximum})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"set", "hostname"}, Args: []string{"[name]"}, Run: setHostname})
	c.Add(Command{Context: MainContext, Flags: Admin | Local, Path: []string{"set", "wifi", "ssid"}, Args: []string{"<name>"}, Run: setWiFiSSID})
	c.Add(Command{Context: MainContext, Flags: Admin | Local, Path: []string{"set", "wifi", "password"}, Run: setWiFiPassword})

	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"syslog"}, Run: showSyslog})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"syslog", "host"}, Args: []string{"[host]"}, Run: syslogHost})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"syslog", "level"}, Args: []string{"[level]"}, Run: syslogLevel, Complete: levels})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"syslog", "mark"}, Args: []string{"[seconds]"}, Run: syslogMark})

	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"sync"}, Run: syncSettings})
	c.Add(Command{Context: MainContext, Flags: Admin, Path: []string{"restart"}, Run: restart})
	return c
}

func help(s *Session, _ []string) {
	for _, cmd := range s.shell.commands.Available(s.context, s.flags) {
		s.Println(cmd.Usage())
	}
}

func becomeAdmin(s *Session) {
	logging.Noticef(s.log, "Admin session opened on console %s", s.name)
	s.flags |= Admin
}

func dropAdmin(s *Session) {
	s.log.Infof("Admin session closed on console %s", s.name)
	s.flags &^= Admin
}

func mainExit(s *Session, _ []string) {
	if s.flags&Admin != 0 {
		dropAdmin(s)
		return
	}
	s.stop()
}

func mainLogout(s *Session, _ []string) {
	if s.flags&Admin != 0 {
		dropAdmin(s)
	}
	s.stop()
}

func su(s *Session, _ []string) {
	if s.flags&Local != 0 {
		becomeAdmin(s)
		return
	}

	s.EnterPassword("Password: ", func(s *Session, completed bool, password string) {
		if !completed {
			return
		}
		start := s.now
		encoded := s.shell.env.Settings.Values().AdminPassword
		verify := s.shell.env.Verify
		s.offload(func() func() {
			ok, err := verify(password, encoded)
			return func() {
				if err != nil && !errors.Is(err, settings.ErrNoPassword) {
					s.log.WithError(err).Error("Unable to verify admin password")
				}
				if ok && password != "" {
					becomeAdmin(s)
					return
				}
				s.delayUntil(start, InvalidPasswordDelay, func() {
					logging.Noticef(s.log, "Invalid admin password on console %s", s.name)
					s.Println("su: incorrect password")
				})
			}
		})
	})
}

// enterNewPassword prompts twice and calls set with the password when both
// entries match.
func enterNewPassword(s *Session, set func(s *Session, password string)) {
	s.EnterPassword("Enter new password: ", func(s *Session, completed bool, password1 string) {
		if !completed {
			return
		}
		s.EnterPassword("Retype new password: ", func(s *Session, completed bool, password2 string) {
			if !completed {
				return
			}
			if password1 != password2 {
				s.Println("Passwords do not match")
				return
			}
			set(s, password2)
		})
	})
}

func passwd(s *Session, _ []string) {
	enterNewPassword(s, func(s *Session, password string) {
		hash := s.shell.env.Hash
		s.offload(func() func() {
			encoded, err := hash(password)
			return func() {
				if err != nil {
					s.log.WithError(err).Error("Unable to hash admin password")
					s.Println("Unable to set admin password")
					return
				}
				s.shell.env.Settings.SetAdminPasswordHash(encoded)
				if commit(s) {
					logging.Noticef(s.log, "Admin password changed on console %s", s.name)
					s.Println("Admin password updated")
				}
			}
		})
	})
}

func consoleLog(s *Session, args []string) {
	if len(args) > 0 {
		level, err := logging.ParseLevel(args[0])
		if err != nil {
			s.Println("Invalid log level")
			return
		}
		s.SetLogLevel(level)
	}
	s.Printfln("Log level = %s", strings.ToUpper(s.LogLevel().String()))
}

var showSections = map[string]Handler{
	"door":    showDoor,
	"history": showHistory,
	"network": showNetwork,
	"relay":   showRelay,
	"sensors": showSensors,
	"system":  showSystem,
	"uptime":  showUptime,
	"version": showVersion,
}

var showOrder = []string{"network", "relay", "door", "sensors", "system", "uptime", "version"}

func showAll(s *Session, _ []string) {
	for i, name := range showOrder {
		if i > 0 {
			s.Println("")
		}
		showSections[name](s, nil)
	}
}

func showSensors(s *Session, _ []string) {
	if s.shell.env.Devices == nil {
		return
	}
	for _, d := range s.shell.env.Devices() {
		s.Println(d.String())
	}
}

func showRelay(s *Session, _ []string) {
	env := s.shell.env
	if env.Relay != nil {
		s.Printfln("Relay: %s", onOff(env.Relay()))
	}
	if env.Control != nil {
		s.Printfln("Mode: %s", env.Control.Mode())
		if remaining := env.Control.MinOffRemaining(s.now); remaining > 0 {
			s.Printfln("Minimum off time remaining: %s", time.Duration(remaining)*time.Millisecond)
		}
	}
}

func showDoor(s *Session, _ []string) {
	if s.shell.env.Door == nil {
		return
	}
	state, counts := s.shell.env.Door()
	s.Printfln("Door: %s", state)
	s.Printfln("Opened: %d, closed: %d", counts.Opened, counts.Closed)
}

func showNetwork(s *Session, _ []string) {
	if s.shell.env.Network == nil {
		return
	}
	for _, line := range s.shell.env.Network() {
		s.Println(line)
	}
}

func showHistory(s *Session, _ []string) {
	if s.shell.env.History == nil {
		s.Println("History not available")
		return
	}
	lines := s.shell.env.History(historyLines)
	if len(lines) == 0 {
		s.Println("No history")
		return
	}
	for _, line := range lines {
		s.Println(line)
	}
}

func showSystem(s *Session, _ []string) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.Printfln("Go version:  %s", runtime.Version())
	s.Printfln("Platform:    %s/%s", runtime.GOOS, runtime.GOARCH)
	s.Printfln("Goroutines:  %d", runtime.NumGoroutine())
	s.Printfln("Heap in use: %d bytes", mem.HeapInuse)
	s.Printfln("Sessions:    %d", s.shell.Sessions())
}

func showUptime(s *Session, _ []string) {
	if s.shell.env.Uptime == nil {
		return
	}
	s.Println("Uptime: " + FormatUptime(s.shell.env.Uptime()))
}

func showVersion(s *Session, _ []string) {
	s.Println("Version: " + s.shell.env.Version)
}

// FormatUptime renders d as days+hh:mm:ss.mmm.
func FormatUptime(d time.Duration) string {
	ms := d.Milliseconds()
	days := ms / 86400000
	ms %= 86400000
	return fmt.Sprintf("%03d+%02d:%02d:%02d.%03d",
		days, ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

func sensorIDs(s *Session, _ []string) []string {
	if s.shell.env.Devices == nil {
		return nil
	}
	var ids []string
	for _, d := range s.shell.env.Devices() {
		ids = append(ids, d.ID.String())
	}
	return ids
}

func enterSensor(s *Session, args []string) {
	id, err := sensors.ParseID(args[0])
	if err != nil {
		s.Println("Invalid sensor ID")
		return
	}
	if s.shell.env.Devices == nil {
		s.Println("Sensor not found")
		return
	}
	if _, ok := sensors.Lookup(s.shell.env.Devices(), id); !ok {
		s.Println("Sensor not found")
		return
	}
	s.context = SensorContext
	s.sensor = id
}

func sensorShow(s *Session, _ []string) {
	var devices []sensors.Device
	if s.shell.env.Devices != nil {
		devices = s.shell.env.Devices()
	}
	d, ok := sensors.Lookup(devices, s.sensor)
	if !ok {
		s.Printfln("Sensor %s not present", s.sensor)
		return
	}
	s.Println(d.String())
}

func sensorExit(s *Session, _ []string) {
	s.context = MainContext
}

func sensorLogout(s *Session, args []string) {
	sensorExit(s, args)
	mainLogout(s, args)
}

func setRelayMode(s *Session, mode control.Mode) {
	if s.shell.env.Control == nil {
		s.Println("Relay control not available")
		return
	}
	s.shell.env.Control.SetMode(mode)
	s.Printfln("Relay mode = %s", mode)
}

func showSettings(s *Session, _ []string) {
	v := s.shell.env.Settings.Values()
	s.Printfln("Minimum temperature = %.2f°C", v.MinimumC)
	s.Printfln("Maximum temperature = %.2f°C", v.MaximumC)
	if s.flags&Admin != 0 && s.flags&Local != 0 {
		s.Printfln("WiFi SSID = %s", unset(v.WiFiSSID))
		password := "<unset>"
		if v.WiFiPassword != "" {
			password = "********"
		}
		s.Printfln("WiFi Password = %s", password)
	}
}

func parseTemperature(s *Session, arg string) (float64, bool) {
	c, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
		s.Println("Invalid temperature")
		return 0, false
	}
	return c, true
}

func printSetpointError(s *Session, err error) {
	if errors.Is(err, settings.ErrOutOfRange) {
		s.Printfln("Temperature out of range (%.0f°C to %.0f°C)", settings.LowestC, settings.HighestC)
		return
	}
	s.Println("Invalid temperature")
}

func setMinimum(s *Session, args []string) {
	c, ok := parseTemperature(s, args[0])
	if !ok {
		return
	}
	store := s.shell.env.Settings
	maxChanged, err := store.SetMinimum(c)
	if err != nil {
		printSetpointError(s, err)
		return
	}
	commit(s)
	s.Printfln("Minimum temperature = %.2f°C", store.Minimum())
	if maxChanged {
		s.Printfln("Maximum temperature = %.2f°C", store.Maximum())
	}
}

func setMaximum(s *Session, args []string) {
	c, ok := parseTemperature(s, args[0])
	if !ok {
		return
	}
	store := s.shell.env.Settings
	minChanged, err := store.SetMaximum(c)
	if err != nil {
		printSetpointError(s, err)
		return
	}
	commit(s)
	if minChanged {
		s.Printfln("Minimum temperature = %.2f°C", store.Minimum())
	}
	s.Printfln("Maximum temperature = %.2f°C", store.Maximum())
}

func setHostname(s *Session, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	s.shell.env.Settings.SetHostname(name)
	commit(s)
	s.Printfln("Hostname = %s", unset(name))
}

func setWiFiSSID(s *Session, args []string) {
	s.shell.env.Settings.SetWiFiSSID(args[0])
	commit(s)
	s.Printfln("WiFi SSID = %s", unset(args[0]))
}

func setWiFiPassword(s *Session, _ []string) {
	enterNewPassword(s, func(s *Session, password string) {
		s.shell.env.Settings.SetWiFiPassword(password)
		if commit(s) {
			s.Println("WiFi password updated")
		}
	})
}

func showSyslog(s *Session, _ []string) {
	v := s.shell.env.Settings.Values()
	s.Printfln("Syslog host = %s", unset(v.SyslogHost))
	s.Printfln("Syslog level = %s", strings.ToUpper(v.SyslogLevel))
	s.Printfln("Syslog mark interval = %ds", v.SyslogMarkInterval)
}

func syslogChanged(s *Session) {
	commit(s)
	if s.shell.env.ApplySyslog != nil {
		s.shell.env.ApplySyslog()
	}
}

func syslogHost(s *Session, args []string) {
	host := ""
	if len(args) > 0 {
		host = args[0]
	}
	s.shell.env.Settings.SetSyslogHost(host)
	syslogChanged(s)
	s.Printfln("Syslog host = %s", unset(host))
}

func syslogLevel(s *Session, args []string) {
	store := s.shell.env.Settings
	if len(args) > 0 {
		level, err := logging.ParseLevel(args[0])
		if err != nil {
			s.Println("Invalid log level")
			return
		}
		store.SetSyslogLevel(level.String())
		syslogChanged(s)
	}
	s.Printfln("Syslog level = %s", strings.ToUpper(store.Values().SyslogLevel))
}

func syslogMark(s *Session, args []string) {
	store := s.shell.env.Settings
	if len(args) > 0 {
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds < 0 {
			s.Println("Invalid interval")
			return
		}
		store.SetSyslogMarkInterval(seconds)
		syslogChanged(s)
	}
	s.Printfln("Syslog mark interval = %ds", store.Values().SyslogMarkInterval)
}

func syncSettings(s *Session, _ []string) {
	if commit(s) {
		s.Println("Configuration saved")
	}
}

func restart(s *Session, _ []string) {
	if s.shell.env.Restart == nil {
		s.Println("Restart not available")
		return
	}
	logging.Noticef(s.log, "Restart requested on console %s", s.name)
	s.shell.env.Restart()
}

// commit writes the settings and reports failure on the console.
func commit(s *Session) bool {
	if err := s.shell.env.Settings.Commit(); err != nil {
		s.log.WithError(err).Error("Unable to save configuration")
		s.Println("Unable to save configuration")
		return false
	}
	return true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func unset(v string) string {
	if v == "" {
		return "<unset>"
	}
	return v
}
