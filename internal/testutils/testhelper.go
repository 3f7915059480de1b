//go:build test

package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger that only writes in verbose mode.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

func CreateMockPeripheralDevice() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder()
}

func CreateMockPeripheralDeviceFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(jsonStrFmt, args...)
}

// CreateHeartRateProfile returns a builder for a typical chest strap:
// Heart Rate (measurement + body sensor location) and Battery services.
func CreateHeartRateProfile() *PeripheralDeviceBuilder {
	return CreateMockPeripheralDeviceFromJSON(`{
		"services": [
			{
				"uuid": "180D",
				"characteristics": [
					{ "uuid": "2A37", "properties": "notify", "descriptors": ["2902"] },
					{ "uuid": "2A38", "properties": "read" }
				]
			},
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "descriptors": ["2902"] }
				]
			}
		]
	}`)
}
