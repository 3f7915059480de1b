package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/outbox"
)

// ScanOptions configures the discovery loop
type ScanOptions struct {
	// TargetService is the service UUID every reported device must advertise
	TargetService string `default:"180d" yaml:"target_service"`

	// PausePollInterval is how often the flag is re-checked while paused
	PausePollInterval time.Duration `default:"100ms" yaml:"pause_poll_interval"`

	// AllowList, when non-empty, limits reports to these addresses
	AllowList []string `yaml:"allow"`
	// BlockList drops these addresses
	BlockList []string `yaml:"block"`

	// Start/stop scan retry policy
	ScanControlAttempts  uint64        `default:"5" yaml:"scan_control_attempts"`
	RetryInitialInterval time.Duration `default:"100ms" yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `default:"2s" yaml:"retry_max_interval"`
}

const defaultPausePollInterval = 100 * time.Millisecond

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	opts := &ScanOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Stats is a snapshot of the loop counters
type Stats struct {
	EventsSeen     int64
	EventsMatched  int64
	EventsFiltered int64
	Pauses         int64
}

// Scanner is the discovery loop: it scans, filters by service and reports
// DeviceFound messages. It is paused and resumed through a PauseFlag.
type Scanner struct {
	manager device.Manager
	out     outbox.Sender
	pause   *PauseFlag
	opts    *ScanOptions
	logger  *logrus.Logger

	seen     atomic.Int64
	matched  atomic.Int64
	filtered atomic.Int64
	pauses   atomic.Int64
}

// NewScanner creates a discovery loop. Unset options take their defaults, a nil
// pause flag means the loop is never paused, and a nil logger falls back to logrus.New().
func NewScanner(manager device.Manager, out outbox.Sender, pause *PauseFlag, opts *ScanOptions, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if pause == nil {
		pause = NewPauseFlag()
	}
	if opts == nil {
		opts = &ScanOptions{}
	} else {
		copied := *opts
		opts = &copied
	}
	defaults.SetDefaults(opts)
	if opts.PausePollInterval <= 0 {
		opts.PausePollInterval = defaultPausePollInterval
	}

	return &Scanner{
		manager: manager,
		out:     out,
		pause:   pause,
		opts:    opts,
		logger:  logger,
	}
}

// Stats returns the loop counters
func (s *Scanner) Stats() Stats {
	return Stats{
		EventsSeen:     s.seen.Load(),
		EventsMatched:  s.matched.Load(),
		EventsFiltered: s.filtered.Load(),
		Pauses:         s.pauses.Load(),
	}
}

// Run scans until ctx is cancelled (returns nil) or the adapter fails for good.
// Fatal errors wrap device.ErrNoAdapter, device.ErrEventStreamClosed or device.ErrScanControl.
func (s *Scanner) Run(ctx context.Context) error {
	adapters, err := s.manager.Adapters(ctx)
	if err != nil {
		if errors.Is(err, device.ErrNoAdapter) {
			return err
		}
		return fmt.Errorf("%w: %w", device.ErrNoAdapter, err)
	}
	if len(adapters) == 0 {
		return device.ErrNoAdapter
	}
	central := adapters[0]

	events, err := central.Events(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrEventStreamClosed, err)
	}

	if err := s.control(ctx, "start", func() error {
		return central.StartScan(ctx, device.ScanFilter{})
	}); err != nil {
		return err
	}
	scanning := true

	s.logger.WithFields(logrus.Fields{
		"target_service": s.opts.TargetService,
	}).Info("Discovery loop started")

	defer func() {
		if !scanning {
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := central.StopScan(stopCtx); err != nil {
			s.logger.WithField("error", err).Debug("Failed to stop scan on exit")
		}
	}()

	// the ticker lets a pause take effect while no advertisements arrive
	ticker := time.NewTicker(s.opts.PausePollInterval)
	defer ticker.Stop()

	for {
		var ev device.Event
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.pause.IsPaused() {
				continue
			}
			if err := s.holdWhilePaused(ctx, central, &scanning); err != nil {
				return err
			}
			continue
		case e, ok := <-events:
			if !ok {
				s.logger.Error("Adapter event stream closed")
				return device.ErrEventStreamClosed
			}
			ev = e
		}

		if err := s.holdWhilePaused(ctx, central, &scanning); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		s.handleEvent(ctx, central, ev)
	}
}

// holdWhilePaused stops scanning once per pause period, sleeps until the flag
// clears and restarts scanning once. It returns nil on cancellation.
func (s *Scanner) holdWhilePaused(ctx context.Context, central device.Central, scanning *bool) error {
	for s.pause.IsPaused() {
		if *scanning {
			if err := s.control(ctx, "stop", func() error {
				return central.StopScan(ctx)
			}); err != nil {
				return err
			}
			*scanning = false
			s.pauses.Add(1)
			s.logger.Info("Discovery paused")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.PausePollInterval):
		}
	}

	if !*scanning {
		if err := s.control(ctx, "start", func() error {
			return central.StartScan(ctx, device.ScanFilter{})
		}); err != nil {
			return err
		}
		*scanning = true
		s.logger.Info("Discovery resumed")
	}
	return nil
}

// control runs a start/stop scan call with exponential backoff.
// Cancellation is not an error; exhausted retries wrap device.ErrScanControl.
func (s *Scanner) control(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInitialInterval
	policy.MaxInterval = s.opts.RetryMaxInterval
	policy.MaxElapsedTime = 0

	retries := uint64(0)
	if s.opts.ScanControlAttempts > 1 {
		retries = s.opts.ScanControlAttempts - 1
	}

	err := backoff.RetryNotify(fn, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx),
		func(err error, next time.Duration) {
			s.logger.WithFields(logrus.Fields{
				"op":    op,
				"error": err,
				"retry": next,
			}).Warn("Scan control failed, retrying")
		})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%w: %s scan: %w", device.ErrScanControl, op, err)
}

func (s *Scanner) handleEvent(ctx context.Context, central device.Central, ev device.Event) {
	if ev.Kind != device.EventDiscovered && ev.Kind != device.EventUpdated {
		return
	}
	s.seen.Add(1)

	p, err := central.Peripheral(ctx, ev.ID)
	if err != nil || p == nil {
		s.logger.WithFields(logrus.Fields{
			"id":    ev.ID,
			"error": err,
		}).Debug("Peripheral not resolvable, skipping event")
		return
	}

	props, err := p.Properties(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"id":    ev.ID,
			"error": err,
		}).Debug("Properties unavailable, using empty set")
		props = nil
	}

	record := device.NewDeviceRecord(p, props)
	if !s.accept(record) {
		s.filtered.Add(1)
		return
	}
	s.matched.Add(1)

	if ev.Kind == device.EventDiscovered {
		fields := logrus.Fields{
			"address": record.Address,
			"name":    record.DisplayName(),
		}
		if record.RSSI != nil {
			fields["rssi"] = *record.RSSI
		}
		s.logger.WithFields(fields).Info("Discovered new device")
	}

	// a closed queue means the consumer is gone; keep scanning regardless
	_ = s.out.Send(outbox.DeviceFound{Device: record})
}

// accept applies the service filter, then the allow/block lists
func (s *Scanner) accept(record *device.DeviceRecord) bool {
	if len(record.Services) == 0 || !record.HasService(s.opts.TargetService) {
		return false
	}

	for _, blocked := range s.opts.BlockList {
		if strings.EqualFold(record.Address, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) > 0 {
		for _, a := range s.opts.AllowList {
			if strings.EqualFold(record.Address, a) {
				return true
			}
		}
		return false
	}

	return true
}
