package main

import (
	"errors"

	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/outbox"
)

// FormatUserError turns adapter and inspection errors into one-line messages
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		failure  outbox.Failure
		notFound *device.NotFoundError
	)
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; turn it on and try again"
	case errors.Is(err, device.ErrNoAdapter):
		return "no Bluetooth adapter found"
	case errors.Is(err, device.ErrScanControl):
		return "the Bluetooth adapter rejected scan control: " + err.Error()
	case errors.Is(err, device.ErrEventStreamClosed):
		return "the Bluetooth adapter stopped reporting devices"
	case errors.As(err, &failure):
		return "inspection of " + failure.DeviceID + " failed: " + failure.Reason
	case errors.As(err, &notFound):
		return notFound.Error()
	}
	return err.Error()
}
