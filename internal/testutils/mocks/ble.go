//go:build test

// Package mocks provides testify mocks for go-ble and the device capability interfaces.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement implements ble.Advertisement.
// The embedded interface is never set; unmocked methods panic.
type MockAdvertisement struct {
	mock.Mock
	ble.Advertisement
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.ServiceData)
	}
	return nil
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(ble.Addr)
	}
	return nil
}

// MockDevice implements ble.Device for the scanning and dialing paths
type MockDevice struct {
	mock.Mock
	ble.Device
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	if v := args.Get(0); v != nil {
		return v.(ble.Client), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

// MockClient implements ble.Client for profile discovery
type MockClient struct {
	mock.Mock
	ble.Client
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	if v := args.Get(0); v != nil {
		return v.(*ble.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}
