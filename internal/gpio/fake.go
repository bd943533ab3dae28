package gpio

import "errors"

// FakeInput is a test double that returns scripted levels.
type FakeInput struct {
	// Samples contains scripted raw levels. Each call to Read() consumes
	// the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Set replaces the script with a single level held from now on.
func (f *FakeInput) Set(high bool) {
	f.Samples = []bool{high}
	f.index = 0
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}

// FakeOutput records every level written.
type FakeOutput struct {
	// Writes holds every level passed to Set, in order.
	Writes []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records high.
func (f *FakeOutput) Set(high bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, high)
	return nil
}

// Level returns the last level written and whether anything was written.
func (f *FakeOutput) Level() (bool, bool) {
	if len(f.Writes) == 0 {
		return false, false
	}
	return f.Writes[len(f.Writes)-1], true
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}
