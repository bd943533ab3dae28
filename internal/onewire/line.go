// Package onewire drives a single-master 1-Wire bus: reset/presence, bit and
// byte transfers, device selection, the binary-tree ROM search and CRC8.
//
// The bus is layered in two parts. A Line performs individual time slots
// on the wire; Bus builds byte transfers and ROM commands on top of any
// Line. PinLine implements the standard-speed slot timings on an
// open-drain GPIO pin, and FakeLine simulates DS18B20-class slaves at the
// slot level for tests.
package onewire

import "time"

// Line performs single 1-Wire time slots. Every call is bounded to roughly
// one millisecond of wire time.
type Line interface {
	// Reset sends a reset pulse and reports whether any slave answered with
	// a presence pulse.
	Reset() (presence bool, err error)

	// WriteBit sends one write slot.
	WriteBit(bit bool) error

	// ReadBit sends one read slot and samples the line.
	ReadBit() (bool, error)

	// Release stops driving the line and leaves it to the pull-up.
	Release() error
}

// Pin is an open-drain GPIO line with an external pull-up.
type Pin interface {
	// DriveLow pulls the line to ground.
	DriveLow() error

	// Release stops driving the line so the pull-up takes it high unless a
	// slave holds it low.
	Release() error

	// Level samples the line; true is high.
	Level() (bool, error)
}

// Standard-speed slot timings.
const (
	tA = 6 * time.Microsecond
	tB = 64 * time.Microsecond
	tC = 60 * time.Microsecond
	tD = 10 * time.Microsecond
	tE = 9 * time.Microsecond
	tF = 55 * time.Microsecond
	tH = 480 * time.Microsecond
	tI = 70 * time.Microsecond
	tJ = 410 * time.Microsecond
)

// PinLine implements Line by bit-banging a Pin.
type PinLine struct {
	pin   Pin
	delay func(time.Duration)
}

// NewPinLine creates a PinLine that busy-waits between pin transitions.
func NewPinLine(pin Pin) *PinLine {
	return &PinLine{pin: pin, delay: spin}
}

// Reset holds the line low for tH, releases it and samples for the
// presence pulse after tI.
func (l *PinLine) Reset() (bool, error) {
	if err := l.pin.DriveLow(); err != nil {
		return false, err
	}
	l.delay(tH)
	if err := l.pin.Release(); err != nil {
		return false, err
	}
	l.delay(tI)
	level, err := l.pin.Level()
	if err != nil {
		return false, err
	}
	l.delay(tJ)
	return !level, nil
}

// WriteBit sends a short low pulse for 1 and a long one for 0.
func (l *PinLine) WriteBit(bit bool) error {
	low, high := tC, tD
	if bit {
		low, high = tA, tB
	}
	if err := l.pin.DriveLow(); err != nil {
		return err
	}
	l.delay(low)
	if err := l.pin.Release(); err != nil {
		return err
	}
	l.delay(high)
	return nil
}

// ReadBit opens a read slot and samples the line tE after releasing it.
func (l *PinLine) ReadBit() (bool, error) {
	if err := l.pin.DriveLow(); err != nil {
		return false, err
	}
	l.delay(tA)
	if err := l.pin.Release(); err != nil {
		return false, err
	}
	l.delay(tE)
	level, err := l.pin.Level()
	if err != nil {
		return false, err
	}
	l.delay(tF)
	return level, nil
}

// Release leaves the line to the pull-up.
func (l *PinLine) Release() error {
	return l.pin.Release()
}

// spin busy-waits for d. The scheduler's sleep granularity is far coarser
// than a 1-Wire slot.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
