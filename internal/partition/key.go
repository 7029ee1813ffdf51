// Package partition holds the pure part of the rotation: partition keys, the
// window derived from configuration, physical unit naming and the tick planner.
// Nothing here performs I/O or reads the clock.
package partition

import (
	"sort"
	"time"
)

// Key is a calendar date rendered as yyyyMMdd. The fixed width keeps string
// order equal to chronological order, so keys are never parsed back.
type Key string

const keyLayout = "20060102"

// FloorKey names the sentinel partition below the first real boundary.
const FloorKey Key = "00010101"

// KeyOf renders the calendar date of t in t's own location.
func KeyOf(t time.Time) Key { return Key(t.Format(keyLayout)) }

// Valid reports whether k has the canonical 8-digit shape.
func (k Key) Valid() bool {
	if len(k) != len(keyLayout) {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '9' {
			return false
		}
	}
	return true
}

func (k Key) IsFloor() bool { return k == FloorKey }

func (k Key) String() string { return string(k) }

// Day truncates t to midnight in its location. AddDate on the result steps
// calendar days, which stays correct across DST changes.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Inventory is the set of partition keys currently materialized.
type Inventory map[Key]struct{}

func NewInventory(keys ...Key) Inventory {
	inv := make(Inventory, len(keys))
	for _, k := range keys {
		inv[k] = struct{}{}
	}
	return inv
}

func (inv Inventory) Has(k Key) bool {
	_, ok := inv[k]
	return ok
}

func (inv Inventory) Add(k Key)    { inv[k] = struct{}{} }
func (inv Inventory) Remove(k Key) { delete(inv, k) }

// Size counts non-floor keys.
func (inv Inventory) Size() int {
	n := len(inv)
	if inv.Has(FloorKey) {
		n--
	}
	return n
}

// Sorted returns the keys in ascending order, floor included when present.
func (inv Inventory) Sorted() []Key {
	out := make([]Key, 0, len(inv))
	for k := range inv {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
