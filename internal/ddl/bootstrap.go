package ddl

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/partition-rotator/internal/partition"
)

// Layout is the initial partitioned layout: units floor first then
// ascending, the boundary sequence (every unit but the floor) and the scheme
// binding (one filegroup per unit, same order).
type Layout struct {
	Units      []partition.Unit
	Boundaries []partition.Key
	Binding    []string
}

// PlanLayout computes the bootstrap layout for asOf.
func (b *Builder) PlanLayout(asOf time.Time, w partition.Window) (Layout, error) {
	keys := partition.BootstrapKeys(asOf, w)
	var l Layout
	for _, k := range keys {
		u, err := b.unit(k)
		if err != nil {
			return Layout{}, err
		}
		l.Units = append(l.Units, u)
		l.Binding = append(l.Binding, u.Filegroup)
		if !k.IsFloor() {
			if n := len(l.Boundaries); n > 0 && l.Boundaries[n-1] >= k {
				return Layout{}, fmt.Errorf("ddl: boundary %s does not follow %s", k, l.Boundaries[n-1])
			}
			l.Boundaries = append(l.Boundaries, k)
		}
	}
	return l, nil
}

// Bootstrap renders the one-time batch that creates every unit, the range
// right function, the scheme, and moves the table's clustering onto the
// scheme. The table must exist, be unpartitioned and carry PK_<table>_Id;
// that is not checked here and surfaces as a store error.
func (b *Builder) Bootstrap(l Layout) Batch {
	batch := Batch{Kind: KindBootstrap}
	for _, u := range l.Units {
		batch.Statements = append(batch.Statements, b.addFilegroup(u), b.addFile(u))
	}
	bounds := make([]string, len(l.Boundaries))
	for i, k := range l.Boundaries {
		bounds[i] = string(k)
	}
	pk := "PK_" + b.table + "_Id"
	batch.Statements = append(batch.Statements,
		fmt.Sprintf("CREATE PARTITION FUNCTION %s(DATETIME) AS RANGE RIGHT FOR VALUES ('%s');", b.fn, strings.Join(bounds, "','")),
		fmt.Sprintf("CREATE PARTITION SCHEME %s AS PARTITION [%s] TO (%s);", b.scheme, b.fn, strings.Join(l.Binding, ",")),
		fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", b.table, pk),
		fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY NONCLUSTERED (%s ASC);", b.table, pk, b.keyCol),
		fmt.Sprintf("CREATE CLUSTERED INDEX IX_%s ON %s (%s) ON %s (%s);", b.partCol, b.table, b.partCol, b.scheme, b.partCol),
	)
	return batch
}

// PartitionStatsQuery groups the table's rows by partition ordinal. Only
// validated names are interpolated.
func (b *Builder) PartitionStatsQuery() string {
	return fmt.Sprintf(`SELECT $PARTITION.%[1]s(%[2]s) AS [partition],
       COUNT_BIG(*) AS [rows],
       MIN(%[2]s) AS [min_value],
       MAX(%[2]s) AS [max_value]
FROM [dbo].[%[3]s]
GROUP BY $PARTITION.%[1]s(%[2]s)
ORDER BY [partition]`, b.fn, b.partCol, b.table)
}
