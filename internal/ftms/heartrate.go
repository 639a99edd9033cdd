package ftms

import "fmt"

// ParseHeartRate parses a Heart Rate Measurement notification and returns bpm
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func ParseHeartRate(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	// Bit 0: 0 = UINT8, 1 = UINT16
	if flags&0x01 != 0 {
		if len(buf) < 3 {
			return 0, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		return int(uint16(buf[1]) | (uint16(buf[2]) << 8)), nil
	}
	return int(buf[1]), nil
}

// EncodeHeartRate builds a UINT8 Heart Rate Measurement notification
func EncodeHeartRate(bpm int) []byte {
	if bpm > 0xFF {
		return []byte{0x01, byte(bpm & 0xFF), byte(bpm >> 8)}
	}
	return []byte{0x00, byte(bpm)}
}
