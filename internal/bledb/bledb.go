// Package bledb resolves Bluetooth SIG assigned numbers (services,
// characteristics, descriptors, company identifiers) to human-readable names.
//
// All lookups accept any common UUID spelling: short 16-bit form ("180d"),
// 0x-prefixed ("0x180D"), the full SIG base form with or without dashes, and
// braced forms. Unknown UUIDs resolve to an empty string.
package bledb

import (
	"fmt"
	"strings"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb without dashes.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format used across the
// module: lowercase hex, no dashes, braces or 0x prefix. Full UUIDs built on the
// SIG base are shortened to their 16-bit form.
// Returns an empty string if the input is not a valid 16, 32 or 128-bit UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if !isHex(s) {
		return ""
	}

	switch len(s) {
	case 4:
		return s
	case 8:
		if strings.HasPrefix(s, "0000") {
			return s[4:]
		}
		return s
	case 32:
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
			return s[4:8]
		}
		return s
	default:
		return ""
	}
}

// NormalizeUUIDs normalizes a slice of UUIDs, preserving order.
// Invalid entries normalize to empty strings.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// LookupService returns the SIG name of a GATT service.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the SIG name of a GATT characteristic.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the SIG name of a GATT descriptor.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// LookupVendor returns the company name for a Bluetooth SIG company identifier.
func LookupVendor(companyID uint16) string {
	return vendors[companyID]
}

// FormatVendor renders a company identifier as "Name (0x004C)" or just the
// hex identifier when the company is unknown.
func FormatVendor(companyID uint16) string {
	if name := LookupVendor(companyID); name != "" {
		return fmt.Sprintf("%s (0x%04X)", name, companyID)
	}
	return fmt.Sprintf("0x%04X", companyID)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
