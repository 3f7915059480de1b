//go:build test

package inspector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/hrscan/inspector"
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/outbox"
	"github.com/srg/hrscan/internal/testutils"
	"github.com/srg/hrscan/internal/testutils/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var heartRateCharacteristics = []device.Characteristic{
	{UUID: "2a37", Service: "180d", Properties: device.CharNotify, Descriptors: []string{"2902"}},
	{UUID: "2a38", Service: "180d", Properties: device.CharRead},
	{UUID: "2a19", Service: "180f", Properties: device.CharRead | device.CharNotify, Descriptors: []string{"2902"}},
}

type InspectorTestSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	out        *outbox.Messages
	opts       *inspector.InspectOptions
	peripheral *mocks.MockPeripheral
	record     *device.DeviceRecord
}

func (s *InspectorTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.out = outbox.NewMessages()
	s.opts = &inspector.InspectOptions{
		ConnectTimeout:   50 * time.Millisecond,
		DiscoveryTimeout: 50 * time.Millisecond,
	}

	props := testutils.NewPropertiesBuilder("aa:bb:cc:dd:ee:01").WithName("HRM-1").WithServices("180d")
	s.peripheral = props.BuildPeripheral("aa:bb:cc:dd:ee:01")
	s.record = device.NewDeviceRecord(s.peripheral, props.Build())
}

func (s *InspectorTestSuite) TearDownTest() {
	s.out.Detach()
}

func (s *InspectorTestSuite) newInspector() *inspector.Inspector {
	return inspector.NewInspector(s.out, s.opts, s.helper.Logger)
}

// blockUntilDone makes a mock call wait for its context
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *InspectorTestSuite) requireFailure(msg outbox.Message, kind outbox.FailureKind, reason string) outbox.Failure {
	failure, ok := msg.(outbox.Failure)
	s.Require().True(ok, "expected Failure, got %T", msg)
	s.Equal(kind, failure.Kind)
	s.Equal(reason, failure.Reason)
	return failure
}

func (s *InspectorTestSuite) TestSuccessReportsFullBatchAndDisconnects() {
	var phases []string
	s.peripheral.On("Connect", mock.Anything).Return(nil).Once()
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil).Once()
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)
	s.peripheral.On("Disconnect").Return(nil).Once()

	msg := s.newInspector().
		OnProgress(func(phase string) { phases = append(phases, phase) }).
		Retrieve(context.Background(), s.record)

	ready, ok := msg.(outbox.CharacteristicsReady)
	s.Require().True(ok, "expected CharacteristicsReady, got %T", msg)
	s.Equal("aa:bb:cc:dd:ee:01", ready.DeviceID)
	s.Equal([]device.CharacteristicRecord{
		{UUID: "2a37", Service: "180d", Properties: device.CharNotify, Descriptors: []string{"2902"}},
		{UUID: "2a38", Service: "180d", Properties: device.CharRead, Descriptors: []string{}},
		{UUID: "2a19", Service: "180f", Properties: device.CharRead | device.CharNotify, Descriptors: []string{"2902"}},
	}, ready.Characteristics, "batch MUST preserve discovery order")
	s.Equal([]string{"Connecting", "Discovering", "Done"}, phases)

	s.peripheral.AssertExpectations(s.T())
}

func (s *InspectorTestSuite) TestKeepConnected() {
	s.opts.KeepConnected = true
	s.peripheral.On("Connect", mock.Anything).Return(nil)
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil)
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)

	msg := s.newInspector().Retrieve(context.Background(), s.record)
	s.IsType(outbox.CharacteristicsReady{}, msg)
	s.peripheral.AssertNotCalled(s.T(), "Disconnect")
}

func (s *InspectorTestSuite) TestDeviceNotFound() {
	insp := s.newInspector()

	s.requireFailure(insp.Retrieve(context.Background(), nil), outbox.FailureDeviceNotFound, "device not found")

	orphan := &device.DeviceRecord{ID: "x", Address: "x", Services: []string{"180d"}}
	failure := s.requireFailure(insp.Retrieve(context.Background(), orphan), outbox.FailureDeviceNotFound, "device not found")
	s.Equal("x", failure.DeviceID)
}

func (s *InspectorTestSuite) TestConnectError() {
	s.peripheral.On("Connect", mock.Anything).Return(errors.New("le-connection-abort"))

	failure := s.requireFailure(s.newInspector().Retrieve(context.Background(), s.record),
		outbox.FailureConnectError, "connection error: le-connection-abort")
	s.EqualError(failure.Err, "le-connection-abort")
	s.peripheral.AssertNotCalled(s.T(), "DiscoverServices", mock.Anything)
}

func (s *InspectorTestSuite) TestConnectTimeoutIsDeterministic() {
	release := make(chan struct{})
	s.peripheral.On("Connect", mock.Anything).Return(func(context.Context) error {
		<-release
		return nil
	})
	disconnected := make(chan struct{})
	s.peripheral.On("Disconnect").Run(func(mock.Arguments) { close(disconnected) }).Return(nil).Once()

	started := time.Now()
	failure := s.requireFailure(s.newInspector().Retrieve(context.Background(), s.record),
		outbox.FailureConnectTimeout, "connection timed out")
	elapsed := time.Since(started)

	s.ErrorIs(failure, device.ErrTimeout)
	s.GreaterOrEqual(elapsed, s.opts.ConnectTimeout)
	s.Less(elapsed, s.opts.ConnectTimeout+time.Second, "timeout MUST NOT depend on the transport returning")
	s.peripheral.AssertNotCalled(s.T(), "DiscoverServices", mock.Anything)

	// the abandoned connect finally succeeds and is torn down
	close(release)
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		s.Fail("late connection MUST be disconnected")
	}
}

func (s *InspectorTestSuite) TestDiscoveryError() {
	s.peripheral.On("Connect", mock.Anything).Return(nil)
	s.peripheral.On("DiscoverServices", mock.Anything).Return(errors.New("att: insufficient authentication"))
	s.peripheral.On("Disconnect").Return(nil).Once()

	s.requireFailure(s.newInspector().Retrieve(context.Background(), s.record),
		outbox.FailureDiscoveryError, "service discovery error: att: insufficient authentication")
	s.peripheral.AssertNotCalled(s.T(), "Characteristics")
	s.peripheral.AssertExpectations(s.T())
}

func (s *InspectorTestSuite) TestDiscoveryTimeout() {
	s.peripheral.On("Connect", mock.Anything).Return(nil)
	s.peripheral.On("DiscoverServices", mock.Anything).Return(blockUntilDone)
	s.peripheral.On("Disconnect").Return(nil).Once()

	s.requireFailure(s.newInspector().Retrieve(context.Background(), s.record),
		outbox.FailureDiscoveryTimeout, "service discovery timed out")
	s.peripheral.AssertNotCalled(s.T(), "Characteristics")
}

func (s *InspectorTestSuite) TestConcurrentRequestForSameDeviceIsBusy() {
	s.opts.ConnectTimeout = time.Second
	entered := make(chan struct{})
	release := make(chan struct{})
	s.peripheral.On("Connect", mock.Anything).Return(func(context.Context) error {
		close(entered)
		<-release
		return nil
	}).Once()
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil)
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)
	s.peripheral.On("Disconnect").Return(nil)

	insp := s.newInspector()
	first := make(chan outbox.Message, 1)
	go func() { first <- insp.Retrieve(context.Background(), s.record) }()

	<-entered
	s.requireFailure(insp.Retrieve(context.Background(), s.record), outbox.FailureBusy, "inspection already in progress")

	close(release)
	s.IsType(outbox.CharacteristicsReady{}, <-first)
}

func (s *InspectorTestSuite) TestSequentialRequestsForSameDevice() {
	s.peripheral.On("Connect", mock.Anything).Return(nil).Once()
	s.peripheral.On("Connect", mock.Anything).Return(errors.New("refused")).Once()
	s.peripheral.On("Connect", mock.Anything).Return(nil).Once()
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil)
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)
	s.peripheral.On("Disconnect").Return(nil)

	insp := s.newInspector()
	results := make(chan outbox.Message, 3)
	go func() {
		for range 3 {
			results <- insp.Retrieve(context.Background(), s.record)
		}
		close(results)
	}()

	var got []outbox.Message
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case msg := <-results:
			got = append(got, msg)
		case <-timeout:
			s.FailNow("repeated retrieval for the same device MUST NOT hang", "got %d of 3", len(got))
		}
	}

	s.IsType(outbox.CharacteristicsReady{}, got[0])
	s.requireFailure(got[1], outbox.FailureConnectError, "connection error: refused")
	s.IsType(outbox.CharacteristicsReady{}, got[2], "a finished request MUST release the device")
}

func (s *InspectorTestSuite) TestRetryWaitsForAbandonedConnect() {
	release := make(chan struct{})
	s.peripheral.On("Connect", mock.Anything).Return(func(context.Context) error {
		<-release
		return nil
	}).Once()
	s.peripheral.On("Connect", mock.Anything).Return(nil).Once()
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil)
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)
	disconnected := make(chan struct{}, 2)
	s.peripheral.On("Disconnect").Run(func(mock.Arguments) { disconnected <- struct{}{} }).Return(nil)

	insp := s.newInspector()
	s.requireFailure(insp.Retrieve(context.Background(), s.record),
		outbox.FailureConnectTimeout, "connection timed out")

	// the timed-out dial is still running and owns the device
	s.requireFailure(insp.Retrieve(context.Background(), s.record),
		outbox.FailureBusy, "inspection already in progress")

	close(release)
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		s.FailNow("late connection MUST be disconnected")
	}

	s.Eventually(func() bool {
		_, ok := insp.Retrieve(context.Background(), s.record).(outbox.CharacteristicsReady)
		return ok
	}, 2*time.Second, 10*time.Millisecond, "device MUST be released once the abandoned dial returns")
	s.peripheral.AssertNumberOfCalls(s.T(), "Connect", 2)
}

func (s *InspectorTestSuite) TestInspectAsyncSendsExactlyOneMessagePerCall() {
	s.peripheral.On("Connect", mock.Anything).Return(nil)
	s.peripheral.On("DiscoverServices", mock.Anything).Return(nil)
	s.peripheral.On("Characteristics").Return(heartRateCharacteristics)
	s.peripheral.On("Disconnect").Return(nil)

	other := testutils.NewPropertiesBuilder("aa:bb:cc:dd:ee:02").WithServices("180d")
	otherPeripheral := other.BuildPeripheral("aa:bb:cc:dd:ee:02")
	otherPeripheral.On("Connect", mock.Anything).Return(errors.New("refused"))
	otherRecord := device.NewDeviceRecord(otherPeripheral, other.Build())

	insp := s.newInspector()
	insp.InspectAsync(context.Background(), s.record)
	insp.InspectAsync(context.Background(), otherRecord)
	insp.InspectAsync(context.Background(), nil)
	insp.Wait()
	s.out.Close()

	byDevice := map[string][]outbox.Message{}
	for msg := range s.out.C() {
		switch m := msg.(type) {
		case outbox.CharacteristicsReady:
			byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
		case outbox.Failure:
			byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
		}
	}

	s.Len(byDevice["aa:bb:cc:dd:ee:01"], 1)
	s.Len(byDevice["aa:bb:cc:dd:ee:02"], 1)
	s.Len(byDevice[""], 1)
	s.IsType(outbox.CharacteristicsReady{}, byDevice["aa:bb:cc:dd:ee:01"][0])
	s.IsType(outbox.Failure{}, byDevice["aa:bb:cc:dd:ee:02"][0])
}

func (s *InspectorTestSuite) TestInspectToleratesGoneConsumer() {
	s.out.Detach()
	s.NotPanics(func() {
		s.newInspector().Inspect(context.Background(), nil)
	})
}

func TestInspectorTestSuite(t *testing.T) {
	suite.Run(t, new(InspectorTestSuite))
}

func TestDefaultInspectOptions(t *testing.T) {
	opts := inspector.DefaultInspectOptions()
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 30*time.Second, opts.DiscoveryTimeout)
	assert.False(t, opts.KeepConnected)
}
