//go:build darwin || windows

package bt

import "tinygo.org/x/bluetooth"

// writeRequest sends an acknowledged GATT write
func writeRequest(c *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
