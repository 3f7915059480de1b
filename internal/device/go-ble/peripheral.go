package goble

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/groutine"
)

// Peripheral is a remote device seen by a Central.
//
// Advertised properties are replaced wholesale on every advertisement, so a
// snapshot returned by Properties is never mutated afterwards.
type Peripheral struct {
	id     string
	addr   ble.Addr
	dev    ble.Device
	logger *logrus.Logger

	mu              sync.RWMutex
	props           *device.PeripheralProperties
	client          ble.Client
	characteristics []device.Characteristic
}

func newPeripheral(id string, addr ble.Addr, dev ble.Device, props *device.PeripheralProperties, logger *logrus.Logger) *Peripheral {
	return &Peripheral{
		id:     id,
		addr:   addr,
		dev:    dev,
		props:  props,
		logger: logger,
	}
}

func (p *Peripheral) ID() string {
	return p.id
}

// Properties returns the most recent advertised properties
func (p *Peripheral) Properties(_ context.Context) (*device.PeripheralProperties, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props, nil
}

func (p *Peripheral) update(props *device.PeripheralProperties) {
	p.mu.Lock()
	p.props = props
	p.mu.Unlock()
}

// Connect dials the peripheral. The dial is bounded by ctx only; callers that
// need a hard deadline race it against their own timer.
func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.RLock()
	connected := p.client != nil
	p.mu.RUnlock()
	if connected {
		return device.ErrAlreadyConnected
	}

	p.logger.WithField("address", p.addr.String()).Debug("Dialing BLE device...")

	client, err := p.dev.Dial(ctx, p.addr)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": p.addr.String(),
			"error":   err,
		}).Debug("Failed to dial BLE device")
		return NormalizeError(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		// lost a race with a concurrent Connect; keep the first link
		_ = client.CancelConnection()
		return device.ErrAlreadyConnected
	}
	p.client = client
	p.characteristics = nil
	return nil
}

// DiscoverServices runs full GATT discovery (services, characteristics,
// descriptors) and caches the flattened characteristic list.
func (p *Peripheral) DiscoverServices(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return device.ErrNotConnected
	}

	type result struct {
		profile *ble.Profile
		err     error
	}
	done := make(chan result, 1)

	// DiscoverProfile takes no context; run it aside and honour ctx here
	groutine.Go(ctx, "goble-discover-"+p.id, func(context.Context) {
		profile, err := client.DiscoverProfile(true)
		done <- result{profile: profile, err: err}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return NormalizeError(r.err)
		}
		if r.profile == nil {
			return fmt.Errorf("empty profile returned for %s", p.id)
		}
		chars := flattenProfile(r.profile)

		p.logger.WithFields(logrus.Fields{
			"address":         p.addr.String(),
			"services":        len(r.profile.Services),
			"characteristics": len(chars),
		}).Debug("Profile discovered successfully")

		p.mu.Lock()
		p.characteristics = chars
		p.mu.Unlock()
		return nil
	}
}

// Characteristics returns the characteristics found by the last DiscoverServices
func (p *Peripheral) Characteristics() []device.Characteristic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.characteristics)
}

// Disconnect cancels the connection, if any
func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return device.ErrNotConnected
	}
	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// flattenProfile lists characteristics in service discovery order, each in the
// order the peripheral reported it.
func flattenProfile(profile *ble.Profile) []device.Characteristic {
	var result []device.Characteristic
	for _, svc := range profile.Services {
		if svc == nil {
			continue
		}
		svcUUID := normalizeOrRaw(svc.UUID.String())
		for _, c := range svc.Characteristics {
			if c == nil {
				continue
			}
			descriptors := make([]string, 0, len(c.Descriptors))
			for _, d := range c.Descriptors {
				if d == nil {
					continue
				}
				descriptors = append(descriptors, normalizeOrRaw(d.UUID.String()))
			}
			result = append(result, device.Characteristic{
				UUID:        normalizeOrRaw(c.UUID.String()),
				Service:     svcUUID,
				Properties:  device.CharProperties(c.Property),
				Descriptors: descriptors,
			})
		}
	}
	return result
}
