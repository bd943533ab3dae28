package clock

// Fake is a manually advanced clock for tests.
type Fake struct {
	Now uint32
}

// NewFake creates a Fake clock reading start.
func NewFake(start uint32) *Fake {
	return &Fake{Now: start}
}

// Millis returns the current fake time.
func (f *Fake) Millis() uint32 {
	return f.Now
}

// Advance moves the clock forward by ms milliseconds, wrapping like the
// real counter.
func (f *Fake) Advance(ms uint32) {
	f.Now += ms
}
