package inspector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/groutine"
	"github.com/srg/hrscan/internal/outbox"
)

// Failure reasons reported to the consumer
const (
	ReasonDeviceNotFound   = "device not found"
	ReasonConnectTimeout   = "connection timed out"
	ReasonDiscoveryTimeout = "service discovery timed out"
	ReasonBusy             = "inspection already in progress"

	connectErrorPrefix   = "connection error: "
	discoveryErrorPrefix = "service discovery error: "
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for retrieving a device's characteristics
type InspectOptions struct {
	ConnectTimeout   time.Duration `default:"10s" yaml:"connect_timeout"`
	DiscoveryTimeout time.Duration `default:"30s" yaml:"discovery_timeout"`

	// KeepConnected leaves the peripheral connected after a successful retrieval
	KeepConnected bool `yaml:"keep_connected"`
}

// DefaultInspectOptions returns default inspect options
func DefaultInspectOptions() *InspectOptions {
	opts := &InspectOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Inspector is the characteristic retriever: it connects to one device with a
// bounded timeout, discovers its GATT profile and reports exactly one message
// per request.
type Inspector struct {
	out      outbox.Sender
	opts     *InspectOptions
	logger   *logrus.Logger
	progress ProgressCallback

	// one claim flag per device id; entries are never deleted
	inFlight *hashmap.Map[string, *atomic.Bool]
	workers  groutine.Group
}

// NewInspector creates a retriever. Unset options take their defaults and a nil
// logger falls back to logrus.New().
func NewInspector(out outbox.Sender, opts *InspectOptions, logger *logrus.Logger) *Inspector {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &InspectOptions{}
	} else {
		copied := *opts
		opts = &copied
	}
	defaults.SetDefaults(opts)

	return &Inspector{
		out:      out,
		opts:     opts,
		logger:   logger,
		progress: func(string) {},
		inFlight: hashmap.New[string, *atomic.Bool](),
	}
}

// OnProgress registers a callback for phase changes: Connecting, Discovering,
// Done or Failed. It must be set before the first request.
func (i *Inspector) OnProgress(cb ProgressCallback) *Inspector {
	if cb != nil {
		i.progress = cb
	}
	return i
}

// Inspect retrieves the characteristics of rec and sends the result
func (i *Inspector) Inspect(ctx context.Context, rec *device.DeviceRecord) {
	msg := i.Retrieve(ctx, rec)
	if !i.out.Send(msg) {
		i.logger.WithField("device", deviceID(rec)).Debug("Consumer gone, dropping inspection result")
	}
}

// InspectAsync runs Inspect on its own goroutine and returns immediately
func (i *Inspector) InspectAsync(ctx context.Context, rec *device.DeviceRecord) {
	i.workers.Go(ctx, "inspect-"+deviceID(rec), func(ctx context.Context) {
		i.Inspect(ctx, rec)
	})
}

// Wait blocks until every InspectAsync request has reported
func (i *Inspector) Wait() {
	i.workers.Wait()
}

// Retrieve performs one retrieval and returns its only message: either
// CharacteristicsReady with the complete list or a Failure.
func (i *Inspector) Retrieve(ctx context.Context, rec *device.DeviceRecord) outbox.Message {
	if rec == nil || rec.Peripheral == nil {
		return outbox.Failure{
			DeviceID: deviceID(rec),
			Kind:     outbox.FailureDeviceNotFound,
			Reason:   ReasonDeviceNotFound,
		}
	}

	id := rec.ID
	claim := i.claim(id)
	if claim == nil {
		return outbox.Failure{DeviceID: id, Kind: outbox.FailureBusy, Reason: ReasonBusy}
	}
	handedOff := false
	defer func() {
		if !handedOff {
			claim.Store(false)
		}
	}()

	logger := i.logger.WithFields(logrus.Fields{
		"device":  id,
		"address": rec.Address,
	})
	p := rec.Peripheral

	i.progress("Connecting")
	logger.WithField("timeout", i.opts.ConnectTimeout).Info("Connecting to device...")

	failure, abandoned := i.connect(ctx, p, claim, logger)
	if failure != nil {
		handedOff = abandoned
		failure.DeviceID = id
		i.progress("Failed")
		return *failure
	}

	i.progress("Discovering")
	logger.Debug("Discovering services and characteristics...")

	if failure := i.discover(ctx, p); failure != nil {
		failure.DeviceID = id
		logger.WithField("reason", failure.Reason).Warn("Service discovery failed")
		i.disconnect(p, logger)
		i.progress("Failed")
		return *failure
	}

	chars := device.NewCharacteristicRecords(p.Characteristics())
	if !i.opts.KeepConnected {
		i.disconnect(p, logger)
	}

	logger.WithField("characteristics", len(chars)).Info("Characteristics retrieved")
	i.progress("Done")

	return outbox.CharacteristicsReady{DeviceID: id, Characteristics: chars}
}

// claim marks id as being inspected. It returns nil when id is already claimed.
func (i *Inspector) claim(id string) *atomic.Bool {
	flag, ok := i.inFlight.Get(id)
	if !ok {
		flag, _ = i.inFlight.GetOrInsert(id, new(atomic.Bool))
	}
	if !flag.CompareAndSwap(false, true) {
		return nil
	}
	return flag
}

// connect races Connect against the timeout. The connect attempt itself keeps
// running after a timeout; if it eventually succeeds the link is dropped.
// abandoned reports that the device claim now belongs to that attempt and is
// released once it returns.
func (i *Inspector) connect(ctx context.Context, p device.Peripheral, claim *atomic.Bool, logger *logrus.Entry) (failure *outbox.Failure, abandoned bool) {
	done := make(chan error, 1)
	groutine.Go(ctx, "connect-"+p.ID(), func(ctx context.Context) {
		done <- p.Connect(ctx)
	})

	timer := time.NewTimer(i.opts.ConnectTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		logger.Warn("Connection timed out")
		i.reapAbandoned(p, done, claim, logger)
		return &outbox.Failure{Kind: outbox.FailureConnectTimeout, Reason: ReasonConnectTimeout, Err: device.ErrTimeout}, true
	case <-ctx.Done():
		i.reapAbandoned(p, done, claim, logger)
		err = ctx.Err()
		abandoned = true
	}

	if err != nil {
		logger.WithField("error", err).Warn("Failed to connect")
		return &outbox.Failure{Kind: outbox.FailureConnectError, Reason: connectErrorPrefix + err.Error(), Err: err}, abandoned
	}
	return nil, false
}

// reapAbandoned waits for a connect attempt nobody waits for any more,
// disconnects it if it succeeded, then releases the device claim.
func (i *Inspector) reapAbandoned(p device.Peripheral, done <-chan error, claim *atomic.Bool, logger *logrus.Entry) {
	groutine.Go(context.Background(), "connect-reaper-"+p.ID(), func(context.Context) {
		defer claim.Store(false)
		if err := <-done; err == nil {
			logger.Debug("Abandoned connection completed, disconnecting")
			i.disconnect(p, logger)
		}
	})
}

// discover bounds GATT discovery by DiscoveryTimeout
func (i *Inspector) discover(ctx context.Context, p device.Peripheral) *outbox.Failure {
	dctx, cancel := context.WithTimeout(ctx, i.opts.DiscoveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	groutine.Go(dctx, "discover-"+p.ID(), func(ctx context.Context) {
		done <- p.DiscoverServices(ctx)
	})

	var err error
	select {
	case err = <-done:
	case <-dctx.Done():
		err = dctx.Err()
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return &outbox.Failure{Kind: outbox.FailureDiscoveryTimeout, Reason: ReasonDiscoveryTimeout, Err: device.ErrTimeout}
	default:
		return &outbox.Failure{Kind: outbox.FailureDiscoveryError, Reason: discoveryErrorPrefix + err.Error(), Err: err}
	}
}

func (i *Inspector) disconnect(p device.Peripheral, logger *logrus.Entry) {
	if err := p.Disconnect(); err != nil && !device.IsConnectionState(err, device.NotConnected) {
		logger.WithError(err).Warn("Failed to disconnect device")
	}
}

func deviceID(rec *device.DeviceRecord) string {
	if rec == nil {
		return ""
	}
	return rec.ID
}
