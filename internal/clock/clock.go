// Package clock provides the millisecond tick source used for every timeout
// in the controller. Values are uint32 and wrap; always compare with Since.
package clock

import "time"

// Clock returns a free-running millisecond counter that never goes backwards.
type Clock interface {
	Millis() uint32
}

// Since returns now-last in wrapping 32-bit arithmetic, so a timeout check
// of the form Since(now, last) >= T survives counter overflow.
func Since(now, last uint32) uint32 {
	return now - last
}

// Monotonic counts milliseconds from its creation using the runtime's
// monotonic clock reading.
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a Monotonic clock starting at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Millis returns the milliseconds elapsed since the clock was created,
// truncated to 32 bits.
func (m *Monotonic) Millis() uint32 {
	return uint32(time.Since(m.start).Milliseconds())
}

// Uptime returns the full-precision time since the clock was created.
func (m *Monotonic) Uptime() time.Duration {
	return time.Since(m.start)
}
