package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit upper case with 0x prefix",
			input:    "0x180D",
			expected: "180d",
		},
		{
			name:     "32-bit SIG form",
			input:    "0000180d",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180D-0000-1000-8000-00805F9B34FB}",
			expected: "180d",
		},
		{
			name:     "non-hex input",
			input:    "heart",
			expected: "",
		},
		{
			name:     "wrong length",
			input:    "180d1",
			expected: "",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	assert.Nil(t, NormalizeUUIDs(nil))
	assert.Equal(t, []string{"180d", "", "2a37"}, NormalizeUUIDs([]string{"0x180D", "zz", "00002a37-0000-1000-8000-00805f9b34fb"}))
}

// TestLookupServiceWithFullUUID verifies that LookupService works with both short and full UUIDs
func TestLookupServiceWithFullUUID(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		expected string
	}{
		{name: "Heart Rate - short form", uuid: "180d", expected: "Heart Rate"},
		{name: "Heart Rate - with 0x prefix", uuid: "0x180d", expected: "Heart Rate"},
		{name: "Heart Rate - full Bluetooth SIG UUID with dashes", uuid: "0000180d-0000-1000-8000-00805f9b34fb", expected: "Heart Rate"},
		{name: "Battery Service - full UUID", uuid: "0000180f-0000-1000-8000-00805f9b34fb", expected: "Battery Service"},
		{name: "Nordic UART - vendor UUID", uuid: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "Nordic UART Service"},
		{name: "Unknown UUID", uuid: "ffff", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LookupService(tt.uuid))
		})
	}
}

func TestLookupCharacteristicAndDescriptor(t *testing.T) {
	assert.Equal(t, "Heart Rate Measurement", LookupCharacteristic("00002a37-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "Body Sensor Location", LookupCharacteristic("2A38"))
	assert.Equal(t, "", LookupCharacteristic("2a37ff"))

	assert.Equal(t, "Client Characteristic Configuration", LookupDescriptor("2902"))
	assert.Equal(t, "Characteristic User Descriptor", LookupDescriptor("00002901-0000-1000-8000-00805f9b34fb"))
}

func TestFormatVendor(t *testing.T) {
	assert.Equal(t, "Polar Electro Oy (0x00D1)", FormatVendor(0x00D1))
	assert.Equal(t, "0xBEEF", FormatVendor(0xBEEF))
}
