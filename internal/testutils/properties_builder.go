//go:build test

package testutils

import (
	"github.com/srg/hrscan/internal/device"
	"github.com/srg/hrscan/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// PropertiesBuilder builds device.PeripheralProperties snapshots for tests
// that work at the capability level rather than through go-ble.
type PropertiesBuilder struct {
	props device.PeripheralProperties
}

// NewPropertiesBuilder starts an empty snapshot for the given address
func NewPropertiesBuilder(address string) *PropertiesBuilder {
	return &PropertiesBuilder{props: device.PeripheralProperties{
		Address:          address,
		ManufacturerData: map[uint16][]byte{},
		Services:         []string{},
		ServiceData:      map[string][]byte{},
	}}
}

func (b *PropertiesBuilder) WithName(name string) *PropertiesBuilder {
	b.props.LocalName = &name
	return b
}

func (b *PropertiesBuilder) WithRSSI(rssi int) *PropertiesBuilder {
	b.props.RSSI = &rssi
	return b
}

func (b *PropertiesBuilder) WithTxPower(tx int) *PropertiesBuilder {
	b.props.TxPowerLevel = &tx
	return b
}

func (b *PropertiesBuilder) WithServices(uuids ...string) *PropertiesBuilder {
	b.props.Services = append(b.props.Services, uuids...)
	return b
}

func (b *PropertiesBuilder) WithManufacturerData(company uint16, payload []byte) *PropertiesBuilder {
	b.props.ManufacturerData[company] = payload
	return b
}

func (b *PropertiesBuilder) WithServiceData(uuid string, payload []byte) *PropertiesBuilder {
	b.props.ServiceData[uuid] = payload
	return b
}

// Build returns a copy of the snapshot
func (b *PropertiesBuilder) Build() *device.PeripheralProperties {
	p := b.props
	return &p
}

// BuildPeripheral returns a MockPeripheral whose ID and Properties report this snapshot.
// Connection methods are left for the test to mock.
func (b *PropertiesBuilder) BuildPeripheral(id string) *mocks.MockPeripheral {
	p := &mocks.MockPeripheral{}
	p.On("ID").Return(id).Maybe()
	p.On("Properties", mock.Anything).Return(b.Build(), nil).Maybe()
	return p
}
