//go:build integration

package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/example/partition-rotator/internal/data"
	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotatorcfg"
	"github.com/example/partition-rotator/internal/testutil"
)

func TestRotation_AgainstSQLServer(t *testing.T) {
	testutil.RequireIT(t)
	_, master := testutil.StartMSSQL(t)
	testutil.WaitMSSQLReady(t, master, 60*time.Second)
	p := testutil.PartitionConfig()
	dsn := testutil.CreateLogTable(t, master, p)

	ctx := context.Background()
	store, err := data.NewStore(ctx, rotatorcfg.DatabaseConfig{DSN: dsn, MaxConns: 2, TimeoutMs: 120000})
	if err != nil { t.Fatalf("store: %v", err) }
	defer store.Close()

	rot, err := New(p, store, data.NewStoreLocker(store, data.LockName("it:", p.DatabaseName, p.TableName)))
	if err != nil { t.Fatal(err) }
	w := rot.Window()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l, err := rot.Bootstrap(ctx, start)
	if err != nil { t.Fatalf("bootstrap: %v", err) }

	inv, err := store.Inventory(ctx, rot.Builder().Naming())
	if err != nil { t.Fatal(err) }
	if inv.Size() != w.Size() || !inv.Has(partition.FloorKey) {
		t.Fatalf("after bootstrap: size=%d want %d, keys=%v", inv.Size(), w.Size(), inv.Sorted())
	}
	if len(l.Binding) != w.Units() {
		t.Fatalf("binding length %d want %d", len(l.Binding), w.Units())
	}

	// Second bootstrap must fail on the store side.
	if _, err := rot.Bootstrap(ctx, start); err == nil {
		t.Fatalf("second bootstrap should fail")
	}

	// Same-day tick: nothing to do.
	res, err := rot.Tick(ctx, start)
	if err != nil || !res.Plan.Empty() {
		t.Fatalf("same-day tick: plan=%s err=%v", res.Plan, err)
	}

	// Next day: one lookahead partition is created; the create batch must succeed.
	res, err = rot.Tick(ctx, start.AddDate(0, 0, 1))
	if res.CreateErr != nil {
		t.Fatalf("create batch: %v", res.CreateErr)
	}
	if len(res.Plan.Create) != 1 || !res.Plan.HasRetire() {
		t.Fatalf("plan: %s", res.Plan)
	}
	inv, _ = store.Inventory(ctx, rot.Builder().Naming())
	if !inv.Has(partition.KeyOf(start.AddDate(0, 0, 1+w.Lookahead))) {
		t.Fatalf("lookahead key not materialized: %v", inv.Sorted())
	}
	// The retire ordering (file, merge, filegroup) is an engine contract under
	// review; record what this engine does with it instead of asserting.
	t.Logf("retire batch on this engine: err=%v", res.RetireErr)

	files, err := store.Files(ctx)
	if err != nil || len(files) == 0 {
		t.Fatalf("files report: %d rows, err=%v", len(files), err)
	}
	if _, err := store.DB().ExecContext(ctx, "INSERT INTO Log (CreateTime, Message) VALUES ('20240102 10:00', 'x'), ('20240103 10:00', 'y')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	stats, err := store.PartitionStats(ctx, rot.Builder().PartitionStatsQuery())
	if err != nil { t.Fatalf("partition stats: %v", err) }
	var rows int64
	for _, s := range stats {
		rows += s.Rows
	}
	if len(stats) != 2 || rows != 2 {
		t.Fatalf("partition stats: %+v", stats)
	}
}
