package sensors

import "github.com/sweeney/fridge-controller/internal/onewire"

// DS18B20 function commands.
const (
	CmdConvertTemp    = 0x44
	CmdReadScratchpad = 0xBE
)

// ScratchpadLen is the size of the scratchpad including its CRC.
const ScratchpadLen = 9

// Scratchpad byte offsets.
const (
	spTempLSB = 0
	spTempMSB = 1
	spConfig  = 4
	spCRC     = 8
)

// Scratchpad is the raw contents of a DS18B20 scratchpad.
type Scratchpad [ScratchpadLen]byte

// NewScratchpad builds a scratchpad holding raw at the given resolution
// (9 to 12 bits) with a valid CRC. Alarm bytes hold the power-on defaults.
func NewScratchpad(raw int16, resolution int) Scratchpad {
	var sp Scratchpad
	sp[spTempLSB] = byte(raw)
	sp[spTempMSB] = byte(uint16(raw) >> 8)
	sp[2] = 0x4B
	sp[3] = 0x46
	sp[spConfig] = byte((resolution-9)&0x3)<<5 | 0x1F
	sp[5] = 0xFF
	sp[7] = 0x10
	sp[spCRC] = onewire.CRC8(sp[:spCRC])
	return sp
}

// Valid reports whether the CRC byte matches.
func (sp Scratchpad) Valid() bool {
	return onewire.CRC8(sp[:spCRC]) == sp[spCRC]
}

// Resolution returns the configured conversion resolution in bits.
func (sp Scratchpad) Resolution() int {
	return 9 + int(sp[spConfig]>>5)&0x3
}

// Raw returns the temperature register.
func (sp Scratchpad) Raw() int16 {
	return int16(uint16(sp[spTempMSB])<<8 | uint16(sp[spTempLSB]))
}

// TemperatureC decodes the temperature, discarding the undefined low bits
// of reduced-resolution conversions.
func (sp Scratchpad) TemperatureC() float64 {
	raw := sp.Raw() & resolutionMask(sp.Resolution())
	return float64(raw) / 16.0
}

func resolutionMask(resolution int) int16 {
	switch resolution {
	case 9:
		return ^0x1
	case 10:
		return ^0x3
	case 11:
		return ^0x7
	default:
		return ^0x0
	}
}
