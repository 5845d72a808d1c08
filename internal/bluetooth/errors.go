package bluetooth

import "errors"

var (
	// ErrCharacteristicNotFound is returned when a required GATT characteristic is missing.
	ErrCharacteristicNotFound = errors.New("bluetooth: characteristic not found")

	// ErrDeviceNotFound is returned when an address is not seen during a scan.
	ErrDeviceNotFound = errors.New("bluetooth: device not found")

	// ErrNoToken is returned when an exchange needs a token and none is configured.
	ErrNoToken = errors.New("bluetooth: no pairing token")
)
