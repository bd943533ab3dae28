//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*Chip, error) {
	return nil, errUnsupported
}

// Close is a no-op.
func (c *Chip) Close() error { return nil }

// Output is not implemented on non-Linux platforms.
func (c *Chip) Output(offset int, initial bool) (*RealOutput, error) {
	return nil, errUnsupported
}

// Input is not implemented on non-Linux platforms.
func (c *Chip) Input(offset int) (*RealInput, error) {
	return nil, errUnsupported
}

// OpenDrain is not implemented on non-Linux platforms.
func (c *Chip) OpenDrain(offset int) (*RealOpenDrain, error) {
	return nil, errUnsupported
}

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// Read is not implemented on non-Linux platforms.
func (r *RealInput) Read() (bool, error) { return false, errUnsupported }

// Close is a no-op.
func (r *RealInput) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// Set is not implemented on non-Linux platforms.
func (r *RealOutput) Set(high bool) error { return errUnsupported }

// Close is a no-op.
func (r *RealOutput) Close() error { return nil }

// RealOpenDrain is not available on non-Linux platforms.
type RealOpenDrain struct{}

// DriveLow is not implemented on non-Linux platforms.
func (r *RealOpenDrain) DriveLow() error { return errUnsupported }

// Release is not implemented on non-Linux platforms.
func (r *RealOpenDrain) Release() error { return errUnsupported }

// Level is not implemented on non-Linux platforms.
func (r *RealOpenDrain) Level() (bool, error) { return false, errUnsupported }

// Close is a no-op.
func (r *RealOpenDrain) Close() error { return nil }
