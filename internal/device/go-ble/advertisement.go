package goble

import (
	"encoding/binary"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/hrscan/internal/device"
)

// txPowerUnavailable is what go-ble reports when the advertisement carries no TX power
const txPowerUnavailable = 127

// PropertiesFromAdvertisement converts a go-ble advertisement into a properties snapshot.
//
// Service UUIDs are normalized and deduplicated; overflow services (iOS background
// advertising) count as advertised services. Manufacturer data is split into the
// little-endian company id carried in the first two bytes and the remaining payload.
func PropertiesFromAdvertisement(adv ble.Advertisement) *device.PeripheralProperties {
	props := &device.PeripheralProperties{
		ManufacturerData: make(map[uint16][]byte),
		Services:         make([]string, 0),
		ServiceData:      make(map[string][]byte),
	}

	if addr := adv.Addr(); addr != nil {
		props.Address = addr.String()
	}

	if name := adv.LocalName(); name != "" {
		props.LocalName = &name
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		props.TxPowerLevel = &tx
	}

	rssi := adv.RSSI()
	props.RSSI = &rssi

	if id, payload, ok := splitManufacturerData(adv.ManufacturerData()); ok {
		props.ManufacturerData[id] = payload
	}

	seen := make(map[string]struct{})
	for _, list := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range list {
			uuid := normalizeOrRaw(u.String())
			if _, dup := seen[uuid]; dup {
				continue
			}
			seen[uuid] = struct{}{}
			props.Services = append(props.Services, uuid)
		}
	}

	for _, sd := range adv.ServiceData() {
		props.ServiceData[normalizeOrRaw(sd.UUID.String())] = append([]byte(nil), sd.Data...)
	}

	return props
}

// splitManufacturerData extracts the company identifier from raw manufacturer data
func splitManufacturerData(raw []byte) (uint16, []byte, bool) {
	if len(raw) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(raw[:2]), append([]byte{}, raw[2:]...), true
}

// normalizeOrRaw normalizes known UUID shapes and lowercases anything else
// (for example 32-bit UUIDs) so that comparisons stay case-insensitive.
func normalizeOrRaw(uuid string) string {
	if n := device.NormalizeUUID(uuid); n != "" {
		return n
	}
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// peripheralID derives the stable peripheral identity from its address
func peripheralID(address string) string {
	return strings.ToLower(address)
}
