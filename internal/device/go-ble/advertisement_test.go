//go:build test

package goble_test

import (
	"strings"
	"testing"

	goble "github.com/srg/hrscan/internal/device/go-ble"
	"github.com/srg/hrscan/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesFromAdvertisement_FullAdvertisement(t *testing.T) {
	adv := testutils.NewAdvertisementBuilder().
		WithName("HRM-1").
		WithAddress("AA:BB:CC:DD:EE:01").
		WithRSSI(-60).
		WithTxPower(4).
		WithServices("180D", "0000180f-0000-1000-8000-00805f9b34fb").
		WithOverflowServices("180D").
		WithManufacturerData([]byte{0xD1, 0x00, 0x01, 0x02}).
		WithServiceData("180D", []byte{0x10}).
		Build()

	props := goble.PropertiesFromAdvertisement(adv)
	require.NotNil(t, props)

	assert.Equal(t, "aa:bb:cc:dd:ee:01", strings.ToLower(props.Address))
	require.NotNil(t, props.LocalName)
	assert.Equal(t, "HRM-1", *props.LocalName)
	require.NotNil(t, props.RSSI)
	assert.Equal(t, -60, *props.RSSI)
	require.NotNil(t, props.TxPowerLevel)
	assert.Equal(t, 4, *props.TxPowerLevel)

	assert.Equal(t, []string{"180d", "180f"}, props.Services, "services MUST be normalized and deduplicated")
	assert.Equal(t, map[uint16][]byte{0x00D1: {0x01, 0x02}}, props.ManufacturerData, "company id MUST be little-endian")
	assert.Equal(t, map[string][]byte{"180d": {0x10}}, props.ServiceData)
}

func TestPropertiesFromAdvertisement_SparseAdvertisement(t *testing.T) {
	adv := testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:DD:EE:02").
		WithManufacturerData([]byte{0x4C}).
		Build()

	props := goble.PropertiesFromAdvertisement(adv)

	assert.Nil(t, props.LocalName, "empty local name MUST be reported as absent")
	assert.Nil(t, props.TxPowerLevel, "TX power 127 MUST be reported as absent")
	assert.NotNil(t, props.Services)
	assert.Empty(t, props.Services)
	assert.Empty(t, props.ManufacturerData, "manufacturer data shorter than a company id MUST be dropped")
	assert.Empty(t, props.ServiceData)
}
