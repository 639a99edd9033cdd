//go:build !darwin && !windows

package bt

import "tinygo.org/x/bluetooth"

// writeRequest sends a GATT write. On BlueZ, WriteValue without a "type"
// option is a write request whenever the characteristic supports one, which
// the FTMS control point does.
func writeRequest(c *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.WriteWithoutResponse(data)
	return err
}
