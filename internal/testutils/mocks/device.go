//go:build test

package mocks

import (
	"context"

	"github.com/srg/hrscan/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockManager implements device.Manager
type MockManager struct {
	mock.Mock
}

func (m *MockManager) Adapters(ctx context.Context) ([]device.Central, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]device.Central), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockCentral implements device.Central
type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) StartScan(ctx context.Context, filter device.ScanFilter) error {
	args := m.Called(ctx, filter)
	if rf, ok := args.Get(0).(func(context.Context, device.ScanFilter) error); ok {
		return rf(ctx, filter)
	}
	return args.Error(0)
}

func (m *MockCentral) StopScan(ctx context.Context) error {
	args := m.Called(ctx)
	if rf, ok := args.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return args.Error(0)
}

func (m *MockCentral) Events(ctx context.Context) (<-chan device.Event, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(<-chan device.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCentral) Peripheral(ctx context.Context, id string) (device.Peripheral, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(device.Peripheral), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPeripheral implements device.Peripheral
type MockPeripheral struct {
	mock.Mock
}

func (m *MockPeripheral) ID() string {
	return m.Called().String(0)
}

func (m *MockPeripheral) Properties(ctx context.Context) (*device.PeripheralProperties, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*device.PeripheralProperties), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPeripheral) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	if rf, ok := args.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return args.Error(0)
}

func (m *MockPeripheral) DiscoverServices(ctx context.Context) error {
	args := m.Called(ctx)
	if rf, ok := args.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return args.Error(0)
}

func (m *MockPeripheral) Characteristics() []device.Characteristic {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]device.Characteristic)
	}
	return nil
}

func (m *MockPeripheral) Disconnect() error {
	return m.Called().Error(0)
}
