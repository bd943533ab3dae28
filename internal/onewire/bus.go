package onewire

// ROM commands.
const (
	CmdSearchROM = 0xF0
	CmdMatchROM  = 0x55
	CmdSkipROM   = 0xCC
)

// ROMLen is the length of a ROM code in bytes.
const ROMLen = 8

// Bus provides byte-level transactions and ROM search over a Line.
// It is not safe for concurrent use; a single owner drives the bus.
type Bus struct {
	line Line

	rom             [ROMLen]byte
	lastDiscrepancy int
	lastDevice      bool
}

// NewBus creates a Bus on line.
func NewBus(line Line) *Bus {
	return &Bus{line: line}
}

// Reset sends a reset pulse. It returns true iff a presence pulse was seen;
// false means no devices or a wiring fault.
func (b *Bus) Reset() (bool, error) {
	return b.line.Reset()
}

// Skip addresses all devices on the bus.
func (b *Bus) Skip() error {
	return b.WriteByte(CmdSkipROM)
}

// Select addresses exactly the device with the given ROM code.
func (b *Bus) Select(rom [ROMLen]byte) error {
	if err := b.WriteByte(CmdMatchROM); err != nil {
		return err
	}
	for _, v := range rom {
		if err := b.WriteByte(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteByte sends v least significant bit first.
func (b *Bus) WriteByte(v byte) error {
	for i := 0; i < 8; i++ {
		if err := b.line.WriteBit(v&(1<<i) != 0); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte receives one byte least significant bit first.
func (b *Bus) ReadByte() (byte, error) {
	var v byte
	for i := 0; i < 8; i++ {
		bit, err := b.line.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			v |= 1 << i
		}
	}
	return v, nil
}

// ReadBytes fills buf from the bus.
func (b *Bus) ReadBytes(buf []byte) error {
	for i := range buf {
		v, err := b.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// ReadBit performs a single read slot.
func (b *Bus) ReadBit() (bool, error) {
	return b.line.ReadBit()
}

// Depower releases the line.
func (b *Bus) Depower() error {
	return b.line.Release()
}

// ResetSearch restarts enumeration from the first device.
func (b *Bus) ResetSearch() {
	b.rom = [ROMLen]byte{}
	b.lastDiscrepancy = 0
	b.lastDevice = false
}

// Search finds the next device on the bus and stores its ROM code in rom.
// It returns false when enumeration is complete or no device answered, and
// then restarts the search state. The ROM CRC is not checked here.
func (b *Bus) Search(rom *[ROMLen]byte) (bool, error) {
	if b.lastDevice {
		b.ResetSearch()
		return false, nil
	}

	presence, err := b.line.Reset()
	if err != nil {
		b.ResetSearch()
		return false, err
	}
	if !presence {
		b.ResetSearch()
		return false, nil
	}
	if err := b.WriteByte(CmdSearchROM); err != nil {
		b.ResetSearch()
		return false, err
	}

	next := b.rom
	lastZero := 0
	for id := 1; id <= ROMLen*8; id++ {
		idx := (id - 1) / 8
		mask := byte(1) << ((id - 1) % 8)

		bit, err := b.line.ReadBit()
		if err != nil {
			b.ResetSearch()
			return false, err
		}
		cmp, err := b.line.ReadBit()
		if err != nil {
			b.ResetSearch()
			return false, err
		}
		if bit && cmp {
			// nobody is participating any more
			b.ResetSearch()
			return false, nil
		}

		var dir bool
		if bit != cmp {
			dir = bit
		} else {
			if id < b.lastDiscrepancy {
				dir = next[idx]&mask != 0
			} else {
				dir = id == b.lastDiscrepancy
			}
			if !dir {
				lastZero = id
			}
		}

		if dir {
			next[idx] |= mask
		} else {
			next[idx] &^= mask
		}
		if err := b.line.WriteBit(dir); err != nil {
			b.ResetSearch()
			return false, err
		}
	}

	if next[0] == 0 {
		b.ResetSearch()
		return false, nil
	}

	b.lastDiscrepancy = lastZero
	b.lastDevice = lastZero == 0
	b.rom = next
	*rom = next
	return true, nil
}
