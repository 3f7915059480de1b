//go:build test

package scanner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/outbox"
	"github.com/srg/hrscan/internal/testutils"
	"github.com/srg/hrscan/internal/testutils/mocks"
	"github.com/srg/hrscan/scanner"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite

	helper  *testutils.TestHelper
	manager *mocks.MockManager
	central *mocks.MockCentral
	events  chan device.Event
	out     *outbox.Messages
	pause   *scanner.PauseFlag
	opts    *scanner.ScanOptions

	starts atomic.Int32
	stops  atomic.Int32
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.manager = &mocks.MockManager{}
	s.central = &mocks.MockCentral{}
	s.events = make(chan device.Event, 32)
	s.out = outbox.NewMessages()
	s.pause = scanner.NewPauseFlag()
	s.opts = &scanner.ScanOptions{
		PausePollInterval:    5 * time.Millisecond,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}
	s.starts.Store(0)
	s.stops.Store(0)

	s.manager.On("Adapters", mock.Anything).Return([]device.Central{s.central}, nil).Maybe()
	s.central.On("Events", mock.Anything).Return((<-chan device.Event)(s.events), nil).Maybe()
}

func (s *ScannerTestSuite) TearDownTest() {
	s.out.Detach()
}

func (s *ScannerTestSuite) expectScanControl(startErr, stopErr error) {
	s.central.On("StartScan", mock.Anything, device.ScanFilter{}).
		Run(func(mock.Arguments) { s.starts.Add(1) }).
		Return(startErr).Maybe()
	s.central.On("StopScan", mock.Anything).
		Run(func(mock.Arguments) { s.stops.Add(1) }).
		Return(stopErr).Maybe()
}

// addPeripheral registers a peripheral the central can resolve
func (s *ScannerTestSuite) addPeripheral(id string, props *testutils.PropertiesBuilder) {
	s.central.On("Peripheral", mock.Anything, id).Return(props.BuildPeripheral(id), nil).Maybe()
}

func (s *ScannerTestSuite) start() (context.CancelFunc, <-chan error) {
	_, cancel, done := s.startScanner()
	return cancel, done
}

func (s *ScannerTestSuite) startScanner() (*scanner.Scanner, context.CancelFunc, <-chan error) {
	sc := scanner.NewScanner(s.manager, s.out, s.pause, s.opts, s.helper.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()
	return sc, cancel, done
}

func (s *ScannerTestSuite) nextDevice() *device.DeviceRecord {
	select {
	case msg := <-s.out.C():
		found, ok := msg.(outbox.DeviceFound)
		s.Require().True(ok, "discovery loop MUST only send DeviceFound, got %T", msg)
		return found.Device
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for DeviceFound")
		return nil
	}
}

func (s *ScannerTestSuite) assertNoMessage(within time.Duration) {
	select {
	case msg := <-s.out.C():
		s.Failf("unexpected message", "%#v", msg)
	case <-time.After(within):
	}
}

func (s *ScannerTestSuite) waitDone(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		s.FailNow("Run MUST return")
		return nil
	}
}

func (s *ScannerTestSuite) TestHeartRateScenario() {
	s.expectScanControl(nil, nil)
	s.addPeripheral("hrm-1", testutils.NewPropertiesBuilder("hrm-1").WithName("HRM-1").WithRSSI(-60).WithServices("180d"))
	s.addPeripheral("mouse", testutils.NewPropertiesBuilder("mouse").WithName("Mouse").WithServices("1812"))

	cancel, done := s.start()

	s.events <- device.Event{Kind: device.EventDiscovered, ID: "hrm-1"}
	s.events <- device.Event{Kind: device.EventDiscovered, ID: "mouse"}
	s.events <- device.Event{Kind: device.EventUpdated, ID: "hrm-1"}

	first := s.nextDevice()
	second := s.nextDevice()
	s.assertNoMessage(50 * time.Millisecond)

	for _, rec := range []*device.DeviceRecord{first, second} {
		s.Equal("hrm-1", rec.ID)
		s.Require().NotNil(rec.Name)
		s.Equal("HRM-1", *rec.Name)
		s.Contains(rec.Services, "180d")
		s.NotNil(rec.Peripheral, "record MUST carry the peripheral handle")
	}
	s.NotSame(first, second, "every event MUST produce a fresh record")

	cancel()
	s.NoError(s.waitDone(done), "cancellation MUST end Run without error")
	s.EqualValues(1, s.starts.Load())
}

func (s *ScannerTestSuite) TestNegativePollIntervalFallsBackToDefault() {
	s.opts.PausePollInterval = -time.Second
	s.expectScanControl(nil, nil)
	s.addPeripheral("hrm-1", testutils.NewPropertiesBuilder("hrm-1").WithServices("180d"))

	var (
		cancel context.CancelFunc
		done   <-chan error
	)
	s.Require().NotPanics(func() { cancel, done = s.start() })

	s.events <- device.Event{Kind: device.EventDiscovered, ID: "hrm-1"}
	s.Equal("hrm-1", s.nextDevice().ID)

	cancel()
	s.NoError(s.waitDone(done), "Run MUST NOT panic on a negative poll interval")
}

func (s *ScannerTestSuite) TestFilterInvariant() {
	tests := []struct {
		id       string
		services []string
		reported bool
	}{
		{"short", []string{"180d"}, true},
		{"upper", []string{"180D"}, true},
		{"long", []string{"0000180d-0000-1000-8000-00805f9b34fb"}, true},
		{"mixed", []string{"180f", "180d"}, true},
		{"none", nil, false},
		{"battery", []string{"180f"}, false},
		{"vendor", []string{"6e400001-b5a3-f393-e0a9-e50e24dcca9e"}, false},
	}

	s.expectScanControl(nil, nil)
	for _, tt := range tests {
		s.addPeripheral(tt.id, testutils.NewPropertiesBuilder(tt.id).WithServices(tt.services...))
	}

	sc, cancel, done := s.startScanner()
	for _, tt := range tests {
		s.events <- device.Event{Kind: device.EventDiscovered, ID: tt.id}
	}

	var got []string
	for _, tt := range tests {
		if tt.reported {
			rec := s.nextDevice()
			s.True(rec.HasService("180d"), "reported device %s MUST advertise the target service", rec.ID)
			got = append(got, rec.ID)
		}
	}
	s.assertNoMessage(50 * time.Millisecond)
	s.Equal([]string{"short", "upper", "long", "mixed"}, got)

	cancel()
	s.NoError(s.waitDone(done))

	stats := sc.Stats()
	s.EqualValues(len(tests), stats.EventsSeen)
	s.EqualValues(4, stats.EventsMatched)
	s.EqualValues(3, stats.EventsFiltered)
}

func (s *ScannerTestSuite) TestAllowAndBlockLists() {
	s.opts.AllowList = []string{"AA:01", "aa:02"}
	s.opts.BlockList = []string{"aa:02"}
	s.expectScanControl(nil, nil)
	for _, id := range []string{"aa:01", "aa:02", "aa:03"} {
		s.addPeripheral(id, testutils.NewPropertiesBuilder(id).WithServices("180d"))
	}

	cancel, done := s.start()

	s.events <- device.Event{Kind: device.EventDiscovered, ID: "aa:01"}
	s.events <- device.Event{Kind: device.EventDiscovered, ID: "aa:02"}
	s.events <- device.Event{Kind: device.EventDiscovered, ID: "aa:03"}

	s.Equal("aa:01", s.nextDevice().ID)
	s.assertNoMessage(50 * time.Millisecond)

	cancel()
	s.NoError(s.waitDone(done))
}

func (s *ScannerTestSuite) TestUnresolvedAndPropertylessEventsAreSkipped() {
	s.expectScanControl(nil, nil)
	s.central.On("Peripheral", mock.Anything, "gone").Return(nil, &device.NotFoundError{Resource: "peripheral", ID: "gone"})

	silent := &mocks.MockPeripheral{}
	silent.On("ID").Return("silent")
	silent.On("Properties", mock.Anything).Return(nil, errors.New("not parsed yet"))
	s.central.On("Peripheral", mock.Anything, "silent").Return(silent, nil)

	s.addPeripheral("hrm", testutils.NewPropertiesBuilder("hrm").WithServices("180d"))

	cancel, done := s.start()

	s.events <- device.Event{Kind: device.EventDiscovered, ID: "gone"}
	s.events <- device.Event{Kind: device.EventDiscovered, ID: "silent"}
	s.events <- device.Event{Kind: device.EventDisconnected, ID: "hrm"}
	s.events <- device.Event{Kind: device.EventUpdated, ID: "hrm"}

	s.Equal("hrm", s.nextDevice().ID, "only the resolvable heart-rate device MUST be reported")
	s.assertNoMessage(50 * time.Millisecond)

	cancel()
	s.NoError(s.waitDone(done))
}

func (s *ScannerTestSuite) TestPauseIsIdempotent() {
	s.expectScanControl(nil, nil)
	s.addPeripheral("hrm", testutils.NewPropertiesBuilder("hrm").WithServices("180d"))

	cancel, done := s.start()

	s.events <- device.Event{Kind: device.EventDiscovered, ID: "hrm"}
	s.nextDevice()

	s.pause.Pause()
	s.Eventually(func() bool { return s.stops.Load() == 1 }, time.Second, time.Millisecond,
		"pause MUST stop scanning")

	// many poll intervals and a queued event while paused
	s.events <- device.Event{Kind: device.EventUpdated, ID: "hrm"}
	s.assertNoMessage(100 * time.Millisecond)
	s.EqualValues(1, s.stops.Load(), "scan MUST be stopped at most once per pause")
	s.EqualValues(1, s.starts.Load())

	s.pause.Resume()
	s.nextDevice()
	s.EqualValues(2, s.starts.Load(), "resume MUST restart scanning exactly once before processing")

	// a second pause period stops once more
	s.pause.Pause()
	s.Eventually(func() bool { return s.stops.Load() == 2 }, time.Second, time.Millisecond)
	s.pause.Resume()
	s.Eventually(func() bool { return s.starts.Load() == 3 }, time.Second, time.Millisecond)

	cancel()
	s.NoError(s.waitDone(done))
}

func (s *ScannerTestSuite) TestEventStreamClosedIsFatal() {
	s.expectScanControl(nil, nil)
	cancel, done := s.start()
	defer cancel()

	close(s.events)
	s.ErrorIs(s.waitDone(done), device.ErrEventStreamClosed)
}

func (s *ScannerTestSuite) TestNoAdapter() {
	s.manager = &mocks.MockManager{}
	s.manager.On("Adapters", mock.Anything).Return([]device.Central{}, nil)

	cancel, done := s.start()
	defer cancel()
	s.ErrorIs(s.waitDone(done), device.ErrNoAdapter)

	s.manager = &mocks.MockManager{}
	s.manager.On("Adapters", mock.Anything).Return(nil, device.ErrBluetoothOff)

	cancel2, done := s.start()
	defer cancel2()
	err := s.waitDone(done)
	s.ErrorIs(err, device.ErrNoAdapter)
	s.ErrorIs(err, device.ErrBluetoothOff, "adapter error MUST keep its cause")
}

func (s *ScannerTestSuite) TestStartScanRetriesThenFails() {
	s.opts.ScanControlAttempts = 3
	s.expectScanControl(device.ErrBluetoothOff, nil)

	cancel, done := s.start()
	defer cancel()
	err := s.waitDone(done)

	s.ErrorIs(err, device.ErrScanControl)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.EqualValues(3, s.starts.Load(), "StartScan MUST be attempted the configured number of times")
}

func (s *ScannerTestSuite) TestStartScanRecoversAfterTransientFailure() {
	var calls atomic.Int32
	s.central.On("StartScan", mock.Anything, device.ScanFilter{}).
		Return(func(context.Context, device.ScanFilter) error {
			if calls.Add(1) == 1 {
				return errors.New("busy")
			}
			return nil
		})
	s.central.On("StopScan", mock.Anything).Return(nil).Maybe()
	s.addPeripheral("hrm", testutils.NewPropertiesBuilder("hrm").WithServices("180d"))

	cancel, done := s.start()
	s.events <- device.Event{Kind: device.EventDiscovered, ID: "hrm"}
	s.Equal("hrm", s.nextDevice().ID)

	cancel()
	s.NoError(s.waitDone(done))
	s.EqualValues(2, calls.Load())
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
