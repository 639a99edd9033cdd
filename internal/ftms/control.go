package ftms

import (
	"fmt"
	"math"
)

// ControlResponse is a Control Point indication: [0x80, RequestOpCode, ResultCode, ...]
type ControlResponse struct {
	RequestOpCode byte
	ResultCode    byte
}

// Succeeded reports whether the device accepted the request
func (r ControlResponse) Succeeded() bool {
	return r.ResultCode == ResultSuccess
}

func (r ControlResponse) String() string {
	return fmt.Sprintf("%s -> %s", OpCodeName(r.RequestOpCode), ResultName(r.ResultCode))
}

// ParseControlResponse parses a Control Point indication
func ParseControlResponse(buf []byte) (ControlResponse, error) {
	if len(buf) < 3 {
		return ControlResponse{}, fmt.Errorf("control point response too short: %v", buf)
	}
	if buf[0] != OpCodeResponseCode {
		return ControlResponse{}, fmt.Errorf("unexpected control point op code: 0x%02X", buf[0])
	}
	return ControlResponse{RequestOpCode: buf[1], ResultCode: buf[2]}, nil
}

// EncodeRequestControl builds the Request Control command: [0x00]
func EncodeRequestControl() []byte {
	return []byte{OpCodeRequestControl}
}

// EncodeStartOrResume builds the Start or Resume command: [0x07]
func EncodeStartOrResume() []byte {
	return []byte{OpCodeStartOrResume}
}

// EncodeStop builds the Stop command: [0x08, 0x01]
func EncodeStop() []byte {
	return []byte{OpCodeStopOrPause, 0x01}
}

// EncodeSetTargetSpeed builds [0x02, lo, hi] with speed as UINT16 in 0.01 units.
// The profile divisor converts km/h into whatever unit the firmware expects.
func EncodeSetTargetSpeed(speedKmh float64, profile Profile) []byte {
	speedKmh = math.Max(MinTargetSpeedKmh, math.Min(MaxTargetSpeedKmh, speedKmh))
	divisor := profile.SpeedCommandDivisor
	if divisor <= 0 {
		divisor = 1.0
	}
	raw := uint16(math.Round(speedKmh / divisor * 100))
	return []byte{OpCodeSetTargetSpeed, byte(raw & 0xFF), byte(raw >> 8)}
}

// EncodeSetTargetIncline builds [0x03, lo, hi] with incline as SINT16 in 0.1 % units
func EncodeSetTargetIncline(inclinePercent float64) []byte {
	raw := int16(math.Round(inclinePercent * 10))
	return []byte{OpCodeSetTargetInclination, byte(raw & 0xFF), byte((raw >> 8) & 0xFF)}
}

// OpCodeName returns a readable name for a Control Point op code
func OpCodeName(opCode byte) string {
	switch opCode {
	case OpCodeRequestControl:
		return "Request Control"
	case OpCodeReset:
		return "Reset"
	case OpCodeSetTargetSpeed:
		return "Set Target Speed"
	case OpCodeSetTargetInclination:
		return "Set Target Inclination"
	case OpCodeStartOrResume:
		return "Start/Resume"
	case OpCodeStopOrPause:
		return "Stop/Pause"
	default:
		return fmt.Sprintf("OpCode 0x%02X", opCode)
	}
}

// ResultName returns a readable name for a Control Point result code
func ResultName(resultCode byte) string {
	switch resultCode {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Result 0x%02X", resultCode)
	}
}
