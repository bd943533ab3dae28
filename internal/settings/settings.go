// Package settings holds the values changed at run time from the shell and
// persists them as a MessagePack map, with a backup copy written only after
// the primary has been verified.
package settings

import (
	"errors"
	"math"
)

// Temperature limits in °C.
const (
	DefaultMinimumC = 3.0
	DefaultMaximumC = 5.0
	LowestC         = -40.0
	HighestC        = 40.0
	DifferentialC   = 2.0
)

// ErrNotFinite is returned when a setpoint is NaN or infinite.
var ErrNotFinite = errors.New("temperature must be a finite number")

// ErrOutOfRange is returned when a setpoint is outside LowestC..HighestC.
var ErrOutOfRange = errors.New("temperature out of range")

// ErrVerify is returned when the primary file reads back differently from
// what was written.
var ErrVerify = errors.New("config file did not verify")

// Values is the persisted document.
type Values struct {
	AdminPassword      string  `msgpack:"admin_password"`
	Hostname           string  `msgpack:"hostname"`
	MinimumC           float64 `msgpack:"minimum_temperature_c"`
	MaximumC           float64 `msgpack:"maximum_temperature_c"`
	WiFiSSID           string  `msgpack:"wifi_ssid"`
	WiFiPassword       string  `msgpack:"wifi_password"`
	SyslogHost         string  `msgpack:"syslog_host"`
	SyslogLevel        string  `msgpack:"syslog_level"`
	SyslogMarkInterval int     `msgpack:"syslog_mark_interval"`
}

// Defaults returns the values used when nothing could be loaded.
func Defaults() Values {
	return Values{
		MinimumC:    DefaultMinimumC,
		MaximumC:    DefaultMaximumC,
		SyslogLevel: "info",
	}
}

func clamp(v float64) float64 {
	return math.Max(LowestC, math.Min(HighestC, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inRange(v float64) bool {
	return finite(v) && v >= LowestC && v <= HighestC
}

func checkSetpoint(c float64) error {
	if !finite(c) {
		return ErrNotFinite
	}
	if !inRange(c) {
		return ErrOutOfRange
	}
	return nil
}

// setMinimum stores c. Values outside the legal range are rejected and the
// previous value kept. If the maximum is now below c, the maximum moves to
// c plus the differential, clamped to the range, and true is returned.
func (v *Values) setMinimum(c float64) (bool, error) {
	if err := checkSetpoint(c); err != nil {
		return false, err
	}
	v.MinimumC = c
	if v.MaximumC < v.MinimumC {
		v.MaximumC = clamp(v.MinimumC + DifferentialC)
		return true, nil
	}
	return false, nil
}

// setMaximum is the mirror of setMinimum.
func (v *Values) setMaximum(c float64) (bool, error) {
	if err := checkSetpoint(c); err != nil {
		return false, err
	}
	v.MaximumC = c
	if v.MinimumC > v.MaximumC {
		v.MinimumC = clamp(v.MaximumC - DifferentialC)
		return true, nil
	}
	return false, nil
}

// sanitize replaces unusable setpoints after a load. A stored minimum above
// the stored maximum is moved below it; the maximum wins.
func (v *Values) sanitize() {
	if !inRange(v.MinimumC) {
		v.MinimumC = DefaultMinimumC
	}
	if !inRange(v.MaximumC) {
		v.MaximumC = DefaultMaximumC
	}
	if v.MinimumC > v.MaximumC {
		v.MinimumC = clamp(v.MaximumC - DifferentialC)
	}
	if v.SyslogMarkInterval < 0 {
		v.SyslogMarkInterval = 0
	}
	if v.SyslogLevel == "" {
		v.SyslogLevel = "info"
	}
}
