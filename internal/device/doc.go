// Package device defines the BLE adapter capability consumed by discovery and
// inspection, together with the records handed to consumers.
//
// The package contains:
//   - Manager, Central and Peripheral: the adapter capability (scan control,
//     event stream, property lookup, connect and GATT discovery)
//   - DeviceRecord and CharacteristicRecord: immutable snapshots for consumers
//   - CharProperties: the GATT characteristic properties bitset
//   - the adapter error taxonomy and NormalizeError
//
// Transport implementations live in sub-packages (see device/go-ble).
package device
