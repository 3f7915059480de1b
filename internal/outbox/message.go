// Package outbox carries messages from the discovery loop and the
// characteristic retriever up to the consumer.
package outbox

import (
	"fmt"

	"github.com/srg/hrscan/internal/device"
)

// Message is the tagged union delivered to the consumer:
// DeviceFound, CharacteristicsReady or Failure.
type Message interface {
	message()
}

// Sender is the producer side of the outbound stream.
// Send never blocks and reports false when nobody is listening anymore.
type Sender interface {
	Send(Message) bool
}

// DeviceFound reports a discovered or updated device. Records for the same
// device ID supersede each other; the consumer merges them.
type DeviceFound struct {
	Device *device.DeviceRecord
}

// CharacteristicsReady carries the complete characteristic list of one device
type CharacteristicsReady struct {
	DeviceID        string
	Characteristics []device.CharacteristicRecord
}

// FailureKind classifies a Failure
type FailureKind int

const (
	FailureDeviceNotFound FailureKind = iota
	FailureConnectError
	FailureConnectTimeout
	FailureDiscoveryError
	FailureDiscoveryTimeout
	FailureBusy
)

func (k FailureKind) String() string {
	switch k {
	case FailureDeviceNotFound:
		return "device_not_found"
	case FailureConnectError:
		return "connect_error"
	case FailureConnectTimeout:
		return "connect_timeout"
	case FailureDiscoveryError:
		return "discovery_error"
	case FailureDiscoveryTimeout:
		return "discovery_timeout"
	case FailureBusy:
		return "busy"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Failure is terminal for one request only, never for the discovery session
type Failure struct {
	DeviceID string
	Kind     FailureKind
	Reason   string
	Err      error
}

// Error lets a Failure travel as an error where convenient
func (f Failure) Error() string {
	return f.Reason
}

// Unwrap exposes the underlying cause, if any
func (f Failure) Unwrap() error {
	return f.Err
}

func (DeviceFound) message()          {}
func (CharacteristicsReady) message() {}
func (Failure) message()              {}

// Messages is the concrete queue type used between the core and the consumer
type Messages = Queue[Message]

// NewMessages creates an outbound message queue
func NewMessages() *Messages {
	return NewQueue[Message]()
}
