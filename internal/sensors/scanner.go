package sensors

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/fridge-controller/internal/clock"
	"github.com/sweeney/fridge-controller/internal/onewire"
)

// Timings in milliseconds.
const (
	ReadInterval = 1000
	ReadTimeout  = 2000
	ScanTimeout  = 30000
)

// Bus is the 1-Wire master used by the scanner.
type Bus interface {
	Reset() (bool, error)
	Skip() error
	Select(rom [onewire.ROMLen]byte) error
	WriteByte(v byte) error
	ReadBytes(buf []byte) error
	ReadBit() (bool, error)
	ResetSearch()
	Search(rom *[onewire.ROMLen]byte) (bool, error)
	Depower() error
}

// State is the scanner's position in its cycle.
type State int

// Scanner states.
const (
	Idle State = iota
	Reading
	Scanning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Scanning:
		return "scanning"
	}
	return "unknown"
}

// Scanner converts, enumerates and reads every probe on the bus, one bounded
// step per Tick. It owns the bus exclusively.
type Scanner struct {
	bus Bus
	log *logrus.Entry

	state   State
	last    uint32
	found   []Device
	devices []Device
}

// NewScanner creates an idle scanner. The first conversion starts
// ReadInterval after now.
func NewScanner(bus Bus, log *logrus.Entry, now uint32) *Scanner {
	return &Scanner{bus: bus, log: log, last: now}
}

// State returns the current state.
func (s *Scanner) State() State {
	return s.state
}

// Devices returns a copy of the registry from the last completed scan.
func (s *Scanner) Devices() []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Tick advances the state machine by one step. It reports whether a scan
// completed and the registry was replaced.
func (s *Scanner) Tick(now uint32) bool {
	switch s.state {
	case Idle:
		if clock.Since(now, s.last) >= ReadInterval {
			s.startConversion()
			s.last = now
		}

	case Reading:
		done, err := s.bus.ReadBit()
		if err != nil {
			s.log.WithError(err).Trace("Convert status read failed")
		}
		if err == nil && done {
			s.log.Trace("Scan bus for devices")
			s.bus.ResetSearch()
			s.found = nil
			s.state = Scanning
			s.last = now
		} else if clock.Since(now, s.last) > ReadTimeout {
			s.log.Error("Temperature read timeout")
			s.state = Idle
			s.last = now
		}

	case Scanning:
		if clock.Since(now, s.last) > ScanTimeout {
			s.log.Error("Device scan timeout")
			s.abort(now)
			return false
		}
		return s.scanStep(now)
	}
	return false
}

func (s *Scanner) startConversion() {
	s.log.Trace("Read temperature")
	ok, err := s.bus.Reset()
	if err != nil {
		s.log.WithError(err).Error("Bus reset failed")
		return
	}
	if !ok {
		s.log.Error("Bus reset failed")
		return
	}
	if err := s.bus.Skip(); err != nil {
		s.log.WithError(err).Error("Skip ROM failed")
		return
	}
	if err := s.bus.WriteByte(CmdConvertTemp); err != nil {
		s.log.WithError(err).Error("Convert command failed")
		return
	}
	s.state = Reading
}

func (s *Scanner) scanStep(now uint32) bool {
	var rom [onewire.ROMLen]byte
	more, err := s.bus.Search(&rom)
	s.depower()
	if err != nil {
		s.log.WithError(err).Error("Device search failed")
		s.abort(now)
		return false
	}

	if !more {
		s.devices = s.found
		s.found = nil
		if len(s.devices) == 1 {
			s.log.Trace("Found 1 device")
		} else {
			s.log.Tracef("Found %d devices", len(s.devices))
		}
		s.state = Idle
		s.last = now
		return true
	}

	id := IDFromROM(rom)
	if !id.Valid() {
		s.log.Warnf("Invalid device %s", id)
		return false
	}
	switch id.Family() {
	case FamilyDS18B20:
		s.log.Tracef("Found device %s", id)
		d := Device{ID: id, TemperatureC: s.readTemperature(rom)}
		s.found = append(s.found, d)
		s.log.Debugf("Temperature of %s = %.2fC", id, d.TemperatureC)
	default:
		s.log.Tracef("Unknown device %s", id)
	}
	return false
}

func (s *Scanner) abort(now uint32) {
	s.found = nil
	s.state = Idle
	s.last = now
}

func (s *Scanner) depower() {
	if err := s.bus.Depower(); err != nil {
		s.log.WithError(err).Error("Bus depower failed")
	}
}

// readTemperature reads and decodes one device's scratchpad. Any failure
// yields NaN.
func (s *Scanner) readTemperature(rom [onewire.ROMLen]byte) float64 {
	id := IDFromROM(rom)

	ok, err := s.bus.Reset()
	if err != nil || !ok {
		s.log.WithError(err).Errorf("Bus reset failed before reading scratchpad from %s", id)
		return math.NaN()
	}

	var sp Scratchpad
	if err := s.bus.Select(rom); err != nil {
		s.log.WithError(err).Errorf("Select failed for %s", id)
		return math.NaN()
	}
	if err := s.bus.WriteByte(CmdReadScratchpad); err != nil {
		s.log.WithError(err).Errorf("Read scratchpad command failed for %s", id)
		return math.NaN()
	}
	if err := s.bus.ReadBytes(sp[:]); err != nil {
		s.log.WithError(err).Errorf("Scratchpad read failed for %s", id)
		return math.NaN()
	}

	ok, err = s.bus.Reset()
	if err != nil || !ok {
		s.log.WithError(err).Errorf("Bus reset failed after reading scratchpad from %s", id)
		return math.NaN()
	}

	if !sp.Valid() {
		s.log.Warnf("Invalid scratchpad CRC: %X from device %s", sp[:], id)
		return math.NaN()
	}
	return sp.TemperatureC()
}
