package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string // "adapter", "peripheral"
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Adapter-level errors. These are unrecoverable for the discovery loop.
var (
	ErrNoAdapter         = errors.New("no BLE adapter found")
	ErrBluetoothOff      = errors.New("bluetooth is turned off")
	ErrEventStreamClosed = errors.New("adapter event stream closed")
	ErrScanControl       = errors.New("scan control failed")
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// NormalizeError maps known adapter error strings to structured error types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// EventKind classifies adapter events
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventUpdated
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventUpdated:
		return "updated"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a single notification from the adapter event stream, keyed by peripheral ID
type Event struct {
	Kind EventKind
	ID   string
}

// ScanFilter restricts scanning at the adapter level.
// An empty filter reports every advertising peripheral.
type ScanFilter struct {
	Services []string
}

// Manager enumerates the local BLE adapters
type Manager interface {
	Adapters(ctx context.Context) ([]Central, error)
}

// Central is a local adapter acting in the central role
type Central interface {
	StartScan(ctx context.Context, filter ScanFilter) error
	StopScan(ctx context.Context) error

	// Events returns the adapter event stream. The channel is closed when the
	// adapter stops delivering events for good.
	Events(ctx context.Context) (<-chan Event, error)

	Peripheral(ctx context.Context, id string) (Peripheral, error)
}

// Peripheral is a remote device known to a Central
type Peripheral interface {
	ID() string

	// Properties returns the latest advertised properties.
	// A nil result with a nil error means nothing has been parsed yet.
	Properties(ctx context.Context) (*PeripheralProperties, error)

	Connect(ctx context.Context) error
	DiscoverServices(ctx context.Context) error
	Characteristics() []Characteristic
	Disconnect() error
}

// PeripheralProperties is a snapshot of advertised peripheral metadata
type PeripheralProperties struct {
	Address          string
	LocalName        *string
	TxPowerLevel     *int
	RSSI             *int
	ManufacturerData map[uint16][]byte
	Services         []string
	ServiceData      map[string][]byte
}

// Characteristic is GATT characteristic metadata discovered on a connected peripheral
type Characteristic struct {
	UUID        string
	Service     string
	Properties  CharProperties
	Descriptors []string
}
