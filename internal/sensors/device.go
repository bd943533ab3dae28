// Package sensors discovers DS18B20 probes on a 1-Wire bus and keeps the
// readings of the last completed scan.
package sensors

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sweeney/fridge-controller/internal/onewire"
)

// FamilyDS18B20 is the only family admitted to the registry.
const FamilyDS18B20 = 0x28

// ID is a 64-bit ROM code with the family byte most significant and the CRC
// byte least significant.
type ID uint64

// IDFromROM builds an ID from ROM bytes in bus order.
func IDFromROM(rom [onewire.ROMLen]byte) ID {
	var id ID
	for _, b := range rom {
		id = id<<8 | ID(b)
	}
	return id
}

// ROM returns the ROM bytes in bus order.
func (id ID) ROM() [onewire.ROMLen]byte {
	var rom [onewire.ROMLen]byte
	for i := range rom {
		rom[i] = byte(id >> (56 - 8*i))
	}
	return rom
}

// Family returns the family code.
func (id ID) Family() byte {
	return byte(id >> 56)
}

// Valid reports whether the CRC byte matches the first seven ROM bytes.
func (id ID) Valid() bool {
	rom := id.ROM()
	return onewire.CRC8(rom[:7]) == rom[7]
}

// String renders FF-XXXX-XXXX-XXXX-FF.
func (id ID) String() string {
	return fmt.Sprintf("%02X-%04X-%04X-%04X-%02X",
		uint64(id>>56)&0xFF,
		uint64(id>>40)&0xFFFF,
		uint64(id>>24)&0xFFFF,
		uint64(id>>8)&0xFFFF,
		uint64(id)&0xFF)
}

// ParseID is the inverse of String. Hex digits are accepted in either case.
func ParseID(s string) (ID, error) {
	var fam, a, b, c, crc uint64
	if len(s) != 20 || s[2] != '-' || s[7] != '-' || s[12] != '-' || s[17] != '-' {
		return 0, fmt.Errorf("invalid device id %q", s)
	}
	parts := []struct {
		dst *uint64
		src string
	}{
		{&fam, s[0:2]},
		{&a, s[3:7]},
		{&b, s[8:12]},
		{&c, s[13:17]},
		{&crc, s[18:20]},
	}
	for _, p := range parts {
		v, err := strconv.ParseUint(p.src, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid device id %q", s)
		}
		*p.dst = v
	}
	return ID(fam<<56 | a<<40 | b<<24 | c<<8 | crc), nil
}

// Device is one probe found by the last completed scan.
type Device struct {
	ID           ID
	TemperatureC float64
}

// Valid reports whether the reading is usable.
func (d Device) Valid() bool {
	return !math.IsNaN(d.TemperatureC)
}

// String renders the reading as shown by the shell.
func (d Device) String() string {
	return fmt.Sprintf("Sensor %s: %.2fC", d.ID, d.TemperatureC)
}

// Lookup finds id in devices.
func Lookup(devices []Device, id ID) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
