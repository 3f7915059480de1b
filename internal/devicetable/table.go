// Package devicetable merges the superseding DeviceFound records of a scan
// into one entry per device, kept in first-seen order.
package devicetable

import (
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/srg/hrscan/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry is the merged view of one device
type Entry struct {
	Record    *device.DeviceRecord
	FirstSeen time.Time
	LastSeen  time.Time
	Updates   int
}

// Table is safe for concurrent use
type Table struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[string, *Entry]
	now     func() time.Time
}

func New() *Table {
	return &Table{
		entries: orderedmap.New[string, *Entry](),
		now:     time.Now,
	}
}

// Upsert merges rec into the table and reports whether the device is new.
//
// The newer record wins, except that fields it does not carry (name, TX power,
// RSSI) keep their previous value and advertisement data maps are unioned.
// Names and service data often arrive in alternating advertisement and
// scan-response packets.
func (t *Table) Upsert(rec *device.DeviceRecord) (Entry, bool) {
	if rec == nil {
		return Entry{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	existing, ok := t.entries.Get(rec.ID)
	if !ok {
		e := &Entry{Record: rec, FirstSeen: now, LastSeen: now}
		t.entries.Set(rec.ID, e)
		return *e, true
	}

	existing.Record = merge(existing.Record, rec)
	existing.LastSeen = now
	existing.Updates++
	return *existing, false
}

func merge(prev, next *device.DeviceRecord) *device.DeviceRecord {
	merged := *next
	if merged.Name == nil {
		merged.Name = prev.Name
	}
	if merged.TxPower == nil {
		merged.TxPower = prev.TxPower
	}
	if merged.RSSI == nil {
		merged.RSSI = prev.RSSI
	}
	if merged.Peripheral == nil {
		merged.Peripheral = prev.Peripheral
	}
	merged.ManufacturerData = union(prev.ManufacturerData, next.ManufacturerData)
	merged.ServiceData = union(prev.ServiceData, next.ServiceData)
	return &merged
}

func union[K comparable](prev, next map[K][]byte) map[K][]byte {
	out := make(map[K][]byte, len(prev)+len(next))
	maps.Copy(out, prev)
	maps.Copy(out, next)
	return out
}

// Find returns the entry whose ID or address matches key, ignoring case
func (t *Table) Find(key string) (Entry, bool) {
	want := normalizeKey(key)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		rec := pair.Value.Record
		if normalizeKey(rec.ID) == want || normalizeKey(rec.Address) == want {
			return *pair.Value, true
		}
	}
	return Entry{}, false
}

// Entries returns all entries in first-seen order
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, t.entries.Len())
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Len()
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
