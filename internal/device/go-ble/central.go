package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/groutine"
	"github.com/srg/hrscan/internal/outbox"
)

var (
	// StartGracePeriod is how long StartScan waits for ble.Device.Scan to fail
	// before it considers the scan running. Errors after that close the event stream.
	StartGracePeriod = 250 * time.Millisecond

	// StopTimeout bounds how long StopScan waits for ble.Device.Scan to return
	StopTimeout = 5 * time.Second
)

var errScanEnded = errors.New("scan ended before it started")

// Central turns the blocking ble.Device.Scan into a start/stop scan plus a
// discovered/updated event stream.
type Central struct {
	dev    ble.Device
	logger *logrus.Logger

	peripherals *hashmap.Map[string, *Peripheral]
	events      *outbox.Queue[device.Event]

	mu       sync.Mutex
	scanning bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newCentral(dev ble.Device, logger *logrus.Logger) *Central {
	return &Central{
		dev:         dev,
		logger:      logger,
		peripherals: hashmap.New[string, *Peripheral](),
		events:      outbox.NewQueue[device.Event](),
	}
}

// StartScan starts scanning with duplicates allowed so that every
// advertisement produces an event. A no-op when already scanning.
func (c *Central) StartScan(ctx context.Context, filter device.ScanFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return device.ErrEventStreamClosed
	}
	if c.scanning {
		return nil
	}

	services := device.NormalizeUUIDs(filter.Services)
	scanCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	result := make(chan error, 1)

	groutine.Go(scanCtx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		result <- c.dev.Scan(ctx, true, func(adv ble.Advertisement) {
			c.handleAdvertisement(adv, services)
		})
	})

	grace := time.NewTimer(StartGracePeriod)
	defer grace.Stop()

	select {
	case err := <-result:
		cancel()
		if err == nil {
			err = errScanEnded
		}
		c.logger.WithField("error", err).Debug("BLE scan failed to start")
		return fmt.Errorf("failed to start scan: %w", NormalizeError(err))
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-grace.C:
	}

	c.scanning = true
	c.cancel = cancel
	c.done = done

	groutine.Go(context.Background(), "goble-scan-watch", func(context.Context) {
		c.watchScan(scanCtx, result)
	})

	c.logger.WithField("filter", services).Debug("BLE scan started")
	return nil
}

// watchScan closes the event stream when a running scan ends on its own
func (c *Central) watchScan(scanCtx context.Context, result <-chan error) {
	err := <-result
	if scanCtx.Err() != nil {
		return
	}

	c.logger.WithField("error", err).Error("BLE scan ended unexpectedly, closing event stream")

	c.mu.Lock()
	c.scanning = false
	c.closed = true
	c.mu.Unlock()
	c.events.Close()
}

// StopScan stops a running scan and waits for the adapter to settle.
// A no-op when not scanning.
func (c *Central) StopScan(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scanning {
		return nil
	}
	c.cancel()
	c.scanning = false

	timer := time.NewTimer(StopTimeout)
	defer timer.Stop()

	select {
	case <-c.done:
		c.logger.Debug("BLE scan stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("failed to stop scan: %w", device.ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("failed to stop scan: %w", ctx.Err())
	}
}

// Events returns the discovered/updated event stream. The channel is shared;
// there is a single consumer per Central.
func (c *Central) Events(_ context.Context) (<-chan device.Event, error) {
	return c.events.C(), nil
}

// Peripheral returns a peripheral previously seen while scanning
func (c *Central) Peripheral(_ context.Context, id string) (device.Peripheral, error) {
	p, ok := c.peripherals.Get(peripheralID(id))
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", ID: id}
	}
	return p, nil
}

// Close stops scanning and ends the event stream
func (c *Central) Close() error {
	err := c.StopScan(context.Background())

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.Close()
	return err
}

func (c *Central) handleAdvertisement(adv ble.Advertisement, services []string) {
	props := PropertiesFromAdvertisement(adv)
	if props.Address == "" {
		return
	}
	if len(services) > 0 && !advertisesAny(props.Services, services) {
		return
	}

	id := peripheralID(props.Address)
	kind := device.EventDiscovered

	p, ok := c.peripherals.Get(id)
	if !ok {
		p, ok = c.peripherals.GetOrInsert(id, newPeripheral(id, adv.Addr(), c.dev, props, c.logger))
	}
	if ok {
		p.update(props)
		kind = device.EventUpdated
	}

	if c.logger.IsLevelEnabled(logrus.TraceLevel) {
		c.logger.WithFields(logrus.Fields{
			"address": props.Address,
			"event":   kind.String(),
		}).Trace("Advertisement received")
	}

	c.events.Send(device.Event{Kind: kind, ID: id})
}

func advertisesAny(advertised, wanted []string) bool {
	for _, w := range wanted {
		if device.ContainsUUID(advertised, w) {
			return true
		}
	}
	return false
}
