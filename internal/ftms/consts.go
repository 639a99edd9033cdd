package ftms

// Bluetooth Service and Characteristic UUIDs used by the treadmill runner
const (
	// Fitness Machine Service (FTMS)
	ServiceUUIDFTMS          = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDTreadmillData    = "00002acd-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSFeature      = "00002acc-0000-1000-8000-00805f9b34fb"

	// Heart Rate Service (chest strap)
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"
)

// FTMS Control Point op codes
const (
	OpCodeRequestControl       byte = 0x00
	OpCodeReset                byte = 0x01
	OpCodeSetTargetSpeed       byte = 0x02
	OpCodeSetTargetInclination byte = 0x03
	OpCodeStartOrResume        byte = 0x07
	OpCodeStopOrPause          byte = 0x08
	OpCodeResponseCode         byte = 0x80
)

// FTMS Control Point result codes
const (
	ResultSuccess             byte = 0x01
	ResultOpCodeNotSupported  byte = 0x02
	ResultInvalidParameter    byte = 0x03
	ResultOperationFailed     byte = 0x04
	ResultControlNotPermitted byte = 0x05
)

// Treadmill speed limits in km/h accepted by SetTargetSpeed
const (
	MinTargetSpeedKmh = 0.0
	MaxTargetSpeedKmh = 25.0
)
