//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/hrscan/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked go-ble advertisements for testing.
// Every advertisement method gets an expectation; fields that were never set
// report what go-ble reports for an absent field.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	overflow    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     *int
	connectable bool
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
// The builder starts with connectable=true and RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		serviceData: make(map[string][]byte),
		connectable: true,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithOverflowServices adds UUIDs reported in the overflow area (iOS background advertising).
func (b *AdvertisementBuilder) WithOverflowServices(uuids ...string) *AdvertisementBuilder {
	b.overflow = append(b.overflow, uuids...)
	return b
}

// WithManufacturerData sets the raw manufacturer-specific data, company id included.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithServiceData adds service-specific data for the given service UUID.
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

// WithTxPower sets the transmission power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = &power
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}

	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	b.services = append(b.services, data.Services...)
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	for uuid, payload := range data.ServiceData {
		b.serviceData[uuid] = payload
	}
	if data.TxPower != nil {
		b.txPower = data.TxPower
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// Build creates a MockAdvertisement that implements ble.Advertisement interface.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	var serviceData []ble.ServiceData
	for uuid, data := range b.serviceData {
		serviceData = append(serviceData, ble.ServiceData{
			UUID: ble.MustParse(uuid),
			Data: data,
		})
	}

	txPower := 127 // go-ble value for "not advertised"
	if b.txPower != nil {
		txPower = *b.txPower
	}

	var addr ble.Addr
	if b.address != "" {
		addr = ble.NewAddr(b.address)
	}

	adv.On("Addr").Return(addr).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return(serviceData).Maybe()
	adv.On("Services").Return(parseUUIDs(b.services)).Maybe()
	adv.On("OverflowService").Return(parseUUIDs(b.overflow)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("TxPowerLevel").Return(txPower).Maybe()

	return adv
}

func parseUUIDs(uuids []string) []ble.UUID {
	result := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		result = append(result, ble.MustParse(s))
	}
	return result
}

// AdvertisementArrayBuilder builds arrays of ble.Advertisement with generic parent support.
// T is the type returned from Build: []ble.Advertisement for standalone usage or
// *PeripheralDeviceBuilder when used from a device builder.
//
//	device := NewPeripheralDeviceBuilder().
//	    WithScanAdvertisements().
//	        WithNewAdvertisement().WithName("HRM-1").WithAddress("AA:BB:CC:DD:EE:01").WithServices("180D").Build().
//	        Build().
//	    WithService("180D").
//	    Build()
type AdvertisementArrayBuilder[T any] struct {
	advertisements []ble.Advertisement
	parent         T
	buildFunc      func(T, []ble.Advertisement) T
}

// NewAdvertisementArrayBuilder creates a new array builder with the specified generic type.
func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{
		advertisements: make([]ble.Advertisement, 0),
	}
}

// WithAdvertisements adds pre-existing advertisements to the array.
func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...ble.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement returns an item builder whose Build appends to this array.
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{
		AdvertisementBuilder: NewAdvertisementBuilder(),
		parent:               ab,
	}
}

// Build returns the parent if it exists and has a buildFunc, otherwise returns the array
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

// AdvertisementArrayBuilderItem wraps AdvertisementBuilder to provide array functionality.
type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

// Build adds the advertisement to the parent array and returns the array builder
func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}

// WithName sets the local name and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithName(name string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithName(name)
	return abi
}

// WithAddress sets the device address and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithAddress(addr string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithAddress(addr)
	return abi
}

// WithRSSI sets the signal strength and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithRSSI(rssi int) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithRSSI(rssi)
	return abi
}

// WithServices adds service UUIDs and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithServices(uuids ...string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithServices(uuids...)
	return abi
}

// WithOverflowServices adds overflow UUIDs and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithOverflowServices(uuids ...string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithOverflowServices(uuids...)
	return abi
}

// WithManufacturerData sets manufacturer data and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithManufacturerData(data []byte) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithManufacturerData(data)
	return abi
}

// WithServiceData adds service data and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithServiceData(uuid string, data []byte) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithServiceData(uuid, data)
	return abi
}

// WithTxPower sets the transmission power and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithTxPower(power int) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithTxPower(power)
	return abi
}

// WithConnectable sets connectability and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) WithConnectable(c bool) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithConnectable(c)
	return abi
}

// FromJSON fills the item from JSON and keeps the chain on the item.
func (abi *AdvertisementArrayBuilderItem[T]) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.FromJSON(jsonStrFmt, args...)
	return abi
}
