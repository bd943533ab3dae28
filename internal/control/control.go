// Package control decides when the compressor runs: hysteresis between the
// minimum and maximum setpoints, a manual override and minimum off time.
package control

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/sensors"
)

// Mode selects who drives the relay.
type Mode int

// Modes.
const (
	Auto Mode = iota
	ForcedOn
	ForcedOff
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case ForcedOn:
		return "on"
	case ForcedOff:
		return "off"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "auto", "on" and "off".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto":
		return Auto, nil
	case "on":
		return ForcedOn, nil
	case "off":
		return ForcedOff, nil
	}
	return Auto, fmt.Errorf("invalid relay mode %q", s)
}

// Relay is the output being controlled.
type Relay interface {
	Set(on bool) error
	On() bool
}

// Setpoints supplies the current limits in °C.
type Setpoints interface {
	Minimum() float64
	Maximum() float64
}

// Decide applies hysteresis to one registry snapshot. Any valid reading
// above maxC turns the relay on; all valid readings below minC turn it off;
// otherwise, including when there is no valid reading, current is kept.
func Decide(devices []sensors.Device, minC, maxC float64, current bool) bool {
	valid := 0
	allBelow := true
	for _, d := range devices {
		if !d.Valid() {
			continue
		}
		valid++
		if d.TemperatureC > maxC {
			return true
		}
		if d.TemperatureC >= minC {
			allBelow = false
		}
	}
	if valid > 0 && allBelow {
		return false
	}
	return current
}

// Controller runs the policy once per loop tick.
type Controller struct {
	relay  Relay
	limits Setpoints
	log    *logrus.Entry
	minOff uint32

	mode     Mode
	lastOff  uint32
	deferred bool
}

// NewController creates a controller in automatic mode. The relay is
// treated as having just turned off at now, so a restart cannot short-cycle
// the compressor. minOff is in milliseconds; zero disables the protection.
func NewController(relay Relay, limits Setpoints, log *logrus.Entry, minOff uint32, now uint32) *Controller {
	return &Controller{
		relay:   relay,
		limits:  limits,
		log:     log,
		minOff:  minOff,
		lastOff: now,
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// SetMode records a manual override, or a return to automatic control. It
// takes effect on the next Tick.
func (c *Controller) SetMode(m Mode) {
	if m != c.mode {
		c.log.Infof("Relay mode %s", m)
	}
	c.mode = m
}

// MinOffRemaining returns how long automatic mode must still wait before
// turning the relay on, in milliseconds.
func (c *Controller) MinOffRemaining(now uint32) uint32 {
	if c.relay.On() || c.minOff == 0 {
		return 0
	}
	elapsed := clock.Since(now, c.lastOff)
	if elapsed >= c.minOff {
		return 0
	}
	return c.minOff - elapsed
}

// Tick drives the relay from the current mode and registry snapshot.
func (c *Controller) Tick(now uint32, devices []sensors.Device) {
	on := c.relay.On()

	var want bool
	switch c.mode {
	case ForcedOn:
		want = true
	case ForcedOff:
		want = false
	default:
		want = Decide(devices, c.limits.Minimum(), c.limits.Maximum(), on)
		if want && !on && c.MinOffRemaining(now) > 0 {
			if !c.deferred {
				c.log.Debugf("Relay on deferred for %dms minimum off time", c.MinOffRemaining(now))
				c.deferred = true
			}
			return
		}
	}
	c.deferred = false

	if want == on {
		return
	}
	if c.mode == Auto {
		if want {
			c.log.Infof("Temperature above %.2fC, compressor on", c.limits.Maximum())
		} else {
			c.log.Infof("Temperature below %.2fC, compressor off", c.limits.Minimum())
		}
	}
	if err := c.relay.Set(want); err != nil {
		return
	}
	if !want {
		c.lastOff = now
	}
}
