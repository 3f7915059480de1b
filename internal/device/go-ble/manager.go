// Package goble implements the device capability interfaces on top of
// github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/device"
)

// Manager enumerates adapters through DeviceFactory. go-ble drives a single
// host controller, so there is at most one Central.
type Manager struct {
	logger *logrus.Logger

	mu      sync.Mutex
	central *Central
}

// NewManager creates a Manager. A nil logger falls back to logrus.New().
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{logger: logger}
}

// Adapters opens the default BLE device on first use and returns it as the only Central
func (m *Manager) Adapters(_ context.Context) ([]device.Central, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.central == nil {
		dev, err := DeviceFactory()
		if err != nil {
			err = NormalizeError(err)
			if errors.Is(err, device.ErrNoAdapter) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", device.ErrNoAdapter, err)
		}
		if dev == nil {
			return nil, device.ErrNoAdapter
		}
		m.central = newCentral(dev, m.logger)
		m.logger.Debug("BLE adapter opened")
	}
	return []device.Central{m.central}, nil
}

// Close releases the adapter, if one was opened
func (m *Manager) Close() error {
	m.mu.Lock()
	central := m.central
	m.central = nil
	m.mu.Unlock()

	if central == nil {
		return nil
	}
	closeErr := central.Close()
	if err := central.dev.Stop(); err != nil {
		m.logger.WithField("error", err).Debug("Failed to stop BLE device")
	}
	return closeErr
}
