//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/hrscan/internal/device"
)

func defaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: BLE is not supported on %s", device.ErrUnsupported, runtime.GOOS)
}
