package onewire

// Function commands understood by FakeDevice.
const (
	fakeCmdConvert        = 0x44
	fakeCmdReadScratchpad = 0xBE
)

// FakeDevice is a simulated DS18B20-class slave.
type FakeDevice struct {
	ROM        [ROMLen]byte
	Scratchpad [9]byte

	// ConvertSlots is the number of read slots the device holds the line
	// low after a CONVERT T. Negative means the conversion never finishes.
	ConvertSlots int

	// Detached devices do not answer on the bus.
	Detached bool

	busy int
}

type fakePhase int

const (
	phaseIdle fakePhase = iota
	phaseROM
	phaseMatch
	phaseSearch
	phaseFunction
	phaseConvert
	phaseReadScratchpad
)

// FakeLine simulates a 1-Wire bus with the given devices at the time-slot
// level, so Bus and everything above it run unmodified in tests.
type FakeLine struct {
	Devices []*FakeDevice

	// NoPresence makes every reset go unanswered, like a broken wire.
	NoPresence bool

	// ReadErr and WriteErr, if set, are returned by the slot operations.
	ReadErr  error
	WriteErr error

	// Resets and Releases count the reset pulses and releases issued.
	Resets   int
	Releases int

	// Commands records every ROM and function command byte received.
	Commands []byte

	phase    fakePhase
	selected []*FakeDevice
	acc      byte
	nbits    int
	match    []byte
	bitIndex int
	step     int
	readPos  int
}

// NewFakeLine creates a FakeLine with devices attached.
func NewFakeLine(devices ...*FakeDevice) *FakeLine {
	return &FakeLine{Devices: devices}
}

// Reset starts a new transaction.
func (f *FakeLine) Reset() (bool, error) {
	f.Resets++
	f.acc, f.nbits = 0, 0
	f.selected = f.selected[:0]
	for _, d := range f.Devices {
		if !d.Detached {
			f.selected = append(f.selected, d)
		}
	}
	if f.NoPresence || len(f.selected) == 0 {
		f.phase = phaseIdle
		return false, nil
	}
	f.phase = phaseROM
	return true, nil
}

// WriteBit feeds one bit to the simulated slaves.
func (f *FakeLine) WriteBit(bit bool) error {
	if f.WriteErr != nil {
		return f.WriteErr
	}
	switch f.phase {
	case phaseSearch:
		kept := f.selected[:0]
		for _, d := range f.selected {
			if romBit(d, f.bitIndex) == bit {
				kept = append(kept, d)
			}
		}
		f.selected = kept
		f.bitIndex++
		f.step = 0
		if f.bitIndex == ROMLen*8 {
			f.phase = phaseFunction
		}
	case phaseROM, phaseMatch, phaseFunction:
		if bit {
			f.acc |= 1 << f.nbits
		}
		f.nbits++
		if f.nbits == 8 {
			v := f.acc
			f.acc, f.nbits = 0, 0
			f.byteReceived(v)
		}
	}
	return nil
}

func (f *FakeLine) byteReceived(v byte) {
	switch f.phase {
	case phaseROM:
		f.Commands = append(f.Commands, v)
		switch v {
		case CmdSkipROM:
			f.phase = phaseFunction
		case CmdMatchROM:
			f.match = f.match[:0]
			f.phase = phaseMatch
		case CmdSearchROM:
			f.bitIndex, f.step = 0, 0
			f.phase = phaseSearch
		default:
			f.phase = phaseIdle
		}
	case phaseMatch:
		f.match = append(f.match, v)
		if len(f.match) == ROMLen {
			kept := f.selected[:0]
			for _, d := range f.selected {
				if string(d.ROM[:]) == string(f.match) {
					kept = append(kept, d)
				}
			}
			f.selected = kept
			f.phase = phaseFunction
		}
	case phaseFunction:
		f.Commands = append(f.Commands, v)
		switch v {
		case fakeCmdConvert:
			for _, d := range f.selected {
				d.busy = d.ConvertSlots
			}
			f.phase = phaseConvert
		case fakeCmdReadScratchpad:
			f.readPos = 0
			f.phase = phaseReadScratchpad
		default:
			f.phase = phaseIdle
		}
	}
}

// ReadBit returns the wired-AND of what the selected slaves put on the line.
func (f *FakeLine) ReadBit() (bool, error) {
	if f.ReadErr != nil {
		return false, f.ReadErr
	}
	switch f.phase {
	case phaseSearch:
		v := true
		for _, d := range f.selected {
			b := romBit(d, f.bitIndex)
			if f.step == 1 {
				b = !b
			}
			v = v && b
		}
		f.step++
		return v, nil
	case phaseConvert:
		done := true
		for _, d := range f.selected {
			if d.busy > 0 {
				d.busy--
				done = false
			} else if d.busy < 0 {
				done = false
			}
		}
		return done, nil
	case phaseReadScratchpad:
		if f.readPos >= len(FakeDevice{}.Scratchpad)*8 {
			return true, nil
		}
		v := true
		for _, d := range f.selected {
			v = v && d.Scratchpad[f.readPos/8]&(1<<(f.readPos%8)) != 0
		}
		f.readPos++
		return v, nil
	}
	return true, nil
}

// Release counts the release.
func (f *FakeLine) Release() error {
	f.Releases++
	return nil
}

func romBit(d *FakeDevice, i int) bool {
	return d.ROM[i/8]&(1<<(i%8)) != 0
}
