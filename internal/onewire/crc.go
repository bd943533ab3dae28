package onewire

// CRC8 computes the Dallas/Maxim 1-Wire CRC (polynomial x^8+x^5+x^4+1,
// 0x31 reflected to 0x8C) over data. Appending the result to data and
// recomputing yields zero.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}
