//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Chip is an open GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens a GPIO chip by name, e.g. "gpiochip0".
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("fridge"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &Chip{chip: chip}, nil
}

// Close releases the chip. Lines must be closed first.
func (c *Chip) Close() error {
	return c.chip.Close()
}

// Output requests offset as an output driven to initial.
func (c *Chip) Output(offset int, initial bool) (*RealOutput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(level(initial)))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	return &RealOutput{line: line, offset: offset}, nil
}

// Input requests offset as an input with the internal pull-up enabled.
func (c *Chip) Input(offset int) (*RealInput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}
	return &RealInput{line: line, offset: offset}, nil
}

// OpenDrain requests offset as an open-drain output for the 1-Wire data
// line, initially released.
func (c *Chip) OpenDrain(offset int) (*RealOpenDrain, error) {
	line, err := c.chip.RequestLine(offset,
		gpiocdev.AsOutput(1), gpiocdev.AsOpenDrain, gpiocdev.WithBiasDisabled)
	if err != nil {
		return nil, fmt.Errorf("request 1-wire pin %d: %w", offset, err)
	}
	return &RealOpenDrain{line: line, offset: offset}, nil
}

func level(high bool) int {
	if high {
		return 1
	}
	return 0
}

// RealInput reads an input line.
type RealInput struct {
	line   *gpiocdev.Line
	offset int
}

// Read returns the raw level.
func (r *RealInput) Read() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", r.offset, err)
	}
	return v != 0, nil
}

// Close releases the line.
func (r *RealInput) Close() error {
	if err := r.line.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", r.offset, err)
	}
	return nil
}

// RealOutput drives an output line.
type RealOutput struct {
	line   *gpiocdev.Line
	offset int
}

// Set drives the raw level.
func (r *RealOutput) Set(high bool) error {
	if err := r.line.SetValue(level(high)); err != nil {
		return fmt.Errorf("write pin %d: %w", r.offset, err)
	}
	return nil
}

// Close returns the line to an input before releasing it so nothing stays
// driven while the daemon is down.
func (r *RealOutput) Close() error {
	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", r.offset, err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", r.offset, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// drainLine is the part of a gpiocdev line the 1-Wire driver uses.
type drainLine interface {
	SetValue(int) error
	Value() (int, error)
	Close() error
}

// RealOpenDrain drives an open-drain line. Writing 0 pulls it to ground and
// writing 1 leaves it to the external pull-up, so reading returns the level
// any device on the bus is holding.
type RealOpenDrain struct {
	line   drainLine
	offset int
}

// DriveLow pulls the line to ground.
func (r *RealOpenDrain) DriveLow() error {
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("drive pin %d: %w", r.offset, err)
	}
	return nil
}

// Release lets the pull-up take the line high.
func (r *RealOpenDrain) Release() error {
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("release pin %d: %w", r.offset, err)
	}
	return nil
}

// Level samples the line.
func (r *RealOpenDrain) Level() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", r.offset, err)
	}
	return v != 0, nil
}

// Close releases the bus and the line.
func (r *RealOpenDrain) Close() error {
	var errs []error
	if err := r.line.SetValue(1); err != nil {
		errs = append(errs, fmt.Errorf("release pin %d: %w", r.offset, err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", r.offset, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
