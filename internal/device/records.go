package device

import "slices"

// DeviceRecord is a point-in-time view of a discovered peripheral.
// A fresh record is built for every discovery or update event and is never
// mutated after it has been handed to a consumer.
//
//nolint:revive // DeviceRecord name is intentional for clarity when used as a device.DeviceRecord
type DeviceRecord struct {
	ID               string            `json:"id"`
	Name             *string           `json:"name,omitempty"`
	TxPower          *int              `json:"txPower,omitempty"`
	Address          string            `json:"address"`
	RSSI             *int              `json:"rssi,omitempty"`
	ManufacturerData map[uint16][]byte `json:"manufacturerData,omitempty"`
	Services         []string          `json:"services"`
	ServiceData      map[string][]byte `json:"serviceData,omitempty"`

	// Peripheral is the live handle used to connect later. It may be nil.
	Peripheral Peripheral `json:"-"`
}

// NewDeviceRecord builds a record from a peripheral handle and its properties.
// Nil properties produce a record holding only the identity.
// Slices and maps are copied so the record does not alias adapter state.
func NewDeviceRecord(p Peripheral, props *PeripheralProperties) *DeviceRecord {
	if props == nil {
		props = &PeripheralProperties{}
	}

	rec := &DeviceRecord{
		Address:          props.Address,
		Name:             cloneStringPtr(props.LocalName),
		TxPower:          cloneIntPtr(props.TxPowerLevel),
		RSSI:             cloneIntPtr(props.RSSI),
		ManufacturerData: cloneBytesMap(props.ManufacturerData),
		Services:         slices.Clone(props.Services),
		ServiceData:      cloneBytesMap(props.ServiceData),
		Peripheral:       p,
	}
	if rec.Services == nil {
		rec.Services = []string{}
	}
	if p != nil {
		rec.ID = p.ID()
	}
	if rec.ID == "" {
		rec.ID = rec.Address
	}
	return rec
}

// DisplayName returns the advertised name, falling back to the address
func (r *DeviceRecord) DisplayName() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return r.Address
}

// HasService reports whether the record advertises the given service UUID
func (r *DeviceRecord) HasService(uuid string) bool {
	return ContainsUUID(r.Services, uuid)
}

// CharacteristicRecord describes one characteristic of a connected peripheral
type CharacteristicRecord struct {
	UUID        string         `json:"uuid"`
	Properties  CharProperties `json:"properties"`
	Descriptors []string       `json:"descriptors"`
	Service     string         `json:"service"`
}

// NewCharacteristicRecords flattens adapter characteristics into records,
// preserving discovery order.
func NewCharacteristicRecords(chars []Characteristic) []CharacteristicRecord {
	result := make([]CharacteristicRecord, 0, len(chars))
	for _, c := range chars {
		descriptors := slices.Clone(c.Descriptors)
		if descriptors == nil {
			descriptors = []string{}
		}
		result = append(result, CharacteristicRecord{
			UUID:        c.UUID,
			Properties:  c.Properties,
			Descriptors: descriptors,
			Service:     c.Service,
		})
	}
	return result
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneBytesMap[K comparable](m map[K][]byte) map[K][]byte {
	if m == nil {
		return nil
	}
	out := make(map[K][]byte, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}
