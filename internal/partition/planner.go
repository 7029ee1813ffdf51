package partition

import (
	"fmt"
	"strings"
	"time"
)

// Plan is the outcome of one tick: keys to create ahead of need and at most
// one key to retire behind the retention edge.
type Plan struct {
	AsOf   time.Time
	Create []Key
	Retire Key
}

func (p Plan) HasRetire() bool { return p.Retire != "" }

func (p Plan) Empty() bool { return len(p.Create) == 0 && !p.HasRetire() }

func (p Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "as_of=%s create=[", KeyOf(p.AsOf))
	for i, k := range p.Create {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(k))
	}
	b.WriteString("] retire=")
	if p.HasRetire() {
		b.WriteString(string(p.Retire))
	} else {
		b.WriteString("none")
	}
	return b.String()
}

// PlanTick computes the create set and retire key for as-of date asOf.
//
// Create is {asOf+1 .. asOf+Lookahead} minus the inventory, in ascending
// order; it is recomputed from the live snapshot every tick, so a partially
// applied earlier tick is completed by the next one. Retire is
// asOf-RetentionLength and only when that key is materialized. Exactly one
// retire candidate per tick keeps the window size constant in steady state.
func PlanTick(asOf time.Time, inv Inventory, w Window) Plan {
	day := Day(asOf)
	plan := Plan{AsOf: day}
	for i := 1; i <= w.Lookahead; i++ {
		k := KeyOf(day.AddDate(0, 0, i))
		if !inv.Has(k) {
			plan.Create = append(plan.Create, k)
		}
	}
	if k := KeyOf(day.AddDate(0, 0, -w.RetentionLength)); inv.Has(k) && !k.IsFloor() {
		plan.Retire = k
	}
	return plan
}

// Apply mutates inv as if p had been executed successfully. Used by dry runs
// and simulations.
func (p Plan) Apply(inv Inventory) {
	for _, k := range p.Create {
		inv.Add(k)
	}
	if p.HasRetire() {
		inv.Remove(p.Retire)
	}
}

// BootstrapKeys returns the keys of the initial layout, floor first and then
// ascending: asOf-RetentionLength+1 .. asOf+Lookahead. Offsets run from
// Units() down to 1; the first offset is the floor and takes no boundary.
func BootstrapKeys(asOf time.Time, w Window) []Key {
	day := Day(asOf)
	total := w.Units()
	keys := make([]Key, 0, total)
	for i := total; i > 0; i-- {
		if i == total {
			keys = append(keys, FloorKey)
			continue
		}
		keys = append(keys, KeyOf(day.AddDate(0, 0, w.Lookahead+1-i)))
	}
	return keys
}
