package goble

import (
	"fmt"
	"strings"

	"github.com/srg/hrscan/internal/device"
)

// NormalizeError maps known go-ble error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "can't init hci"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "no devices available"):
		return fmt.Errorf("%w: %v", device.ErrNoAdapter, err)
	default:
		return device.NormalizeError(err)
	}
}
