//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/hrscan/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite that replaces
// goble.DeviceFactory with a mocked ble.Device.
//
// Basic usage (default heart-rate profile, no advertisements):
//
//	type CentralSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
// Scanning with advertisements:
//
//	func (s *CentralSuite) SetupTest() {
//	    s.WithAdvertisements().
//	        WithNewAdvertisement().WithAddress("AA:BB:CC:DD:EE:01").WithServices("180D").Build()
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	// PeripheralBuilder configures the mocked device; defaults to CreateHeartRateProfile
	PeripheralBuilder *PeripheralDeviceBuilder

	// AdvertisementsBuilder configures advertisements replayed by Scan
	AdvertisementsBuilder *AdvertisementArrayBuilder[[]blelib.Advertisement]

	// Device is the mocked device handed out by the factory in the current test
	Device blelib.Device
}

// SetupSuite is called once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.OriginalDeviceFactory = goble.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
			s.Logger.Debug("Device factory restored via t.Cleanup")
		}
	})
}

// SetupTest installs the mocked device factory. Subclasses configure builders first.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = CreateHeartRateProfile()
	}
	if s.AdvertisementsBuilder != nil {
		s.PeripheralBuilder.
			WithScanAdvertisements().
			WithAdvertisements(s.AdvertisementsBuilder.Build()...).
			Build()
	}

	s.Device = s.PeripheralBuilder.Build()
	goble.DeviceFactory = func() (blelib.Device, error) {
		return s.Device, nil
	}
}

// TearDownTest resets builders so every test starts from the defaults
func (s *MockBLEPeripheralSuite) TearDownTest() {
	s.PeripheralBuilder = nil
	s.AdvertisementsBuilder = nil
	s.Device = nil
	goble.DeviceFactory = s.OriginalDeviceFactory
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// WithAdvertisements returns the advertisement array builder for configuring scan advertisements.
func (s *MockBLEPeripheralSuite) WithAdvertisements() *AdvertisementArrayBuilder[[]blelib.Advertisement] {
	if s.AdvertisementsBuilder == nil {
		s.AdvertisementsBuilder = NewAdvertisementArrayBuilder[[]blelib.Advertisement]()
	}
	return s.AdvertisementsBuilder
}
