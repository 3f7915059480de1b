//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/hrscan/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties,omitempty"` // e.g., "read,write,notify"
	Descriptors []string `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked ble.Device: scanning replays the
// configured advertisements, dialing returns a client with the configured profile.
type PeripheralDeviceBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement

	scanErr     error
	dialErr     error
	dialDelay   time.Duration
	discoverErr error

	client *mocks.MockClient
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, descriptors ...string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Descriptors: descriptors,
	})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanError makes Scan fail immediately with err
func (b *PeripheralDeviceBuilder) WithScanError(err error) *PeripheralDeviceBuilder {
	b.scanErr = err
	return b
}

// WithDialError makes Dial fail with err
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithDialDelay delays Dial by d, or until its context ends
func (b *PeripheralDeviceBuilder) WithDialDelay(d time.Duration) *PeripheralDeviceBuilder {
	b.dialDelay = d
	return b
}

// WithDiscoverError makes DiscoverProfile fail with err
func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralDeviceBuilder on Build()
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// Client returns the client mock handed out by the last built device
func (b *PeripheralDeviceBuilder) Client() *mocks.MockClient {
	return b.client
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

// parseCharacteristicProperties converts a comma-separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify // default
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "broadcast":
			property |= blelib.CharBroadcast
		case "read":
			property |= blelib.CharRead
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "write":
			property |= blelib.CharWrite
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		case "signed-write":
			property |= blelib.CharSignedWrite
		case "extended":
			property |= blelib.CharExtended
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", p))
		}
	}
	return property
}

func (b *PeripheralDeviceBuilder) buildProfile() *blelib.Profile {
	profile := &blelib.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			char := &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
			}
			for _, d := range charConfig.Descriptors {
				char.Descriptors = append(char.Descriptors, &blelib.Descriptor{UUID: blelib.MustParse(d)})
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() blelib.Device {
	mockDevice := &mocks.MockDevice{}
	mockClient := &mocks.MockClient{}
	b.client = mockClient

	if b.discoverErr != nil {
		mockClient.On("DiscoverProfile", true).Return(nil, b.discoverErr)
	} else {
		mockClient.On("DiscoverProfile", true).Return(b.buildProfile(), nil)
	}
	mockClient.On("CancelConnection").Return(nil)

	dialDelay := b.dialDelay
	dialCall := mockDevice.On("Dial", mock.Anything, mock.Anything)
	if dialDelay > 0 {
		dialCall.Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			select {
			case <-time.After(dialDelay):
			case <-ctx.Done():
			}
		})
	}
	if b.dialErr != nil {
		dialCall.Return(nil, b.dialErr)
	} else {
		dialCall.Return(mockClient, nil)
	}

	// Scan replays the advertisements, then behaves like go-ble: blocks until cancelled
	ads := b.scanAdvertisements
	if b.scanErr != nil {
		mockDevice.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(b.scanErr)
	} else {
		mockDevice.On("Scan", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				ctx := args.Get(0).(context.Context)
				handler := args.Get(2).(blelib.AdvHandler)
				for _, adv := range ads {
					handler(adv)
				}
				<-ctx.Done()
			}).
			Return(context.Canceled)
	}

	mockDevice.On("Stop").Return(nil).Maybe()

	return mockDevice
}
