package dallas

// crc16 is the CRC-16/ARC used by the DS2408 and DS2450 memory functions.
// Devices send it inverted, least significant byte first.
func crc16(data ...[]byte) uint16 {
	var crc uint16
	for _, d := range data {
		for _, b := range d {
			crc ^= uint16(b)
			for i := 0; i < 8; i++ {
				if crc&1 != 0 {
					crc = crc>>1 ^ 0xA001
				} else {
					crc >>= 1
				}
			}
		}
	}
	return crc
}

func checkCRC16(crc uint16, lo, hi byte) bool {
	return ^crc == uint16(lo)|uint16(hi)<<8
}
