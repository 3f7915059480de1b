package device

import "strings"

// CharProperties is the GATT characteristic properties bitset.
// Bit values follow the Characteristic Declaration attribute.
type CharProperties uint8

const (
	CharBroadcast                 CharProperties = 0x01
	CharRead                      CharProperties = 0x02
	CharWriteWithoutResponse      CharProperties = 0x04
	CharWrite                     CharProperties = 0x08
	CharNotify                    CharProperties = 0x10
	CharIndicate                  CharProperties = 0x20
	CharAuthenticatedSignedWrites CharProperties = 0x40
	CharExtendedProperties        CharProperties = 0x80
)

var propertyNames = []struct {
	flag CharProperties
	name string
}{
	{CharBroadcast, "Broadcast"},
	{CharRead, "Read"},
	{CharWriteWithoutResponse, "WriteWithoutResponse"},
	{CharWrite, "Write"},
	{CharNotify, "Notify"},
	{CharIndicate, "Indicate"},
	{CharAuthenticatedSignedWrites, "AuthenticatedSignedWrites"},
	{CharExtendedProperties, "ExtendedProperties"},
}

// Has reports whether all bits of flag are set
func (p CharProperties) Has(flag CharProperties) bool {
	return flag != 0 && p&flag == flag
}

// Names returns the names of the set properties in bit order
func (p CharProperties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p CharProperties) String() string {
	if p == 0 {
		return "None"
	}
	return strings.Join(p.Names(), "|")
}

// MarshalText renders the bitset as its names so JSON output stays readable
func (p CharProperties) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
