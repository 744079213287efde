package usb

// CRC generator polynomials in bit-reflected form (USB 2.0 §8.3.5).
const (
	crc5Poly  = 0x14   // x^5 + x^2 + 1
	crc16Poly = 0xA001 // x^16 + x^15 + x^2 + 1
)

// CRC5 computes the token CRC over the low 11 bits of field.
func CRC5(field uint16) uint8 {
	crc := uint8(0x1F)
	for i := 0; i < 11; i++ {
		bit := uint8(field>>i) & 1
		if (crc&1)^bit != 0 {
			crc = crc>>1 ^ crc5Poly
		} else {
			crc >>= 1
		}
	}
	return ^crc & 0x1F
}

// CRC16 computes the data packet CRC over data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ crc16Poly
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
