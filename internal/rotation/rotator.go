// Package rotation wires the planner, the DDL builder and the store into the
// two entry points: one rotation tick and the one-time bootstrap.
//
// Callers must provide single-flight execution. The Rotator enforces it with
// a data.Locker; two ticks racing without one can double-apply DDL.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/partition-rotator/internal/data"
	"github.com/example/partition-rotator/internal/ddl"
	"github.com/example/partition-rotator/internal/logging"
	"github.com/example/partition-rotator/internal/metrics"
	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// Store is what a tick needs from the backing database.
type Store interface {
	Inventory(ctx context.Context, naming partition.Naming) (partition.Inventory, error)
	Exec(ctx context.Context, batch ddl.Batch) error
}

type Rotator struct {
	store   Store
	lock    data.Locker
	builder *ddl.Builder
	window  partition.Window
	events  *logging.EventLogger
	newID   func() string
}

func New(cfg rotatorcfg.PartitionConfig, store Store, lock data.Locker) (*Rotator, error) {
	b, err := ddl.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		lock = data.NewLocalLocker()
	}
	return &Rotator{
		store:   store,
		lock:    lock,
		builder: b,
		window:  partition.WindowFrom(cfg),
		events:  logging.NewEventLogger(),
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

func (r *Rotator) Builder() *ddl.Builder { return r.builder }

func (r *Rotator) Window() partition.Window { return r.window }

// Result describes one tick. CreateErr and RetireErr are kept apart because
// the two batches are independent failure domains.
type Result struct {
	RunID     string
	Plan      partition.Plan
	Inventory int
	Create    ddl.Batch
	Retire    ddl.Batch
	CreateErr error
	RetireErr error
}

func (res Result) Err() error { return errors.Join(res.CreateErr, res.RetireErr) }

// Preview reads the inventory and renders both batches without executing
// or locking.
func (r *Rotator) Preview(ctx context.Context, asOf time.Time) (Result, error) {
	res := Result{RunID: r.newID()}
	inv, err := r.store.Inventory(ctx, r.builder.Naming())
	if err != nil {
		return res, fmt.Errorf("read inventory: %w", err)
	}
	res.Inventory = inv.Size()
	res.Plan = partition.PlanTick(asOf, inv, r.window)
	if res.Create, err = r.builder.Create(res.Plan); err != nil {
		return res, err
	}
	if res.Retire, err = r.builder.Retire(res.Plan); err != nil {
		return res, err
	}
	return res, nil
}

// Tick runs one rotation for asOf: the create batch first, then the retire
// batch, which is attempted even when the create batch failed. Nothing is
// retried or compensated; the next tick re-derives its plan from the live
// inventory and finishes whatever was left.
func (r *Rotator) Tick(ctx context.Context, asOf time.Time) (Result, error) {
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	unlock, err := r.acquire(ctx)
	if err != nil {
		if errors.Is(err, data.ErrLockHeld) {
			metrics.TicksTotal.WithLabelValues("skipped").Inc()
			r.events.Tick("", asOf, nil, "", "skipped", err.Error())
		} else {
			metrics.TicksTotal.WithLabelValues("failed").Inc()
		}
		return Result{}, err
	}
	defer r.release(ctx, unlock)

	res, err := r.Preview(ctx, asOf)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		r.events.Tick(res.RunID, asOf, nil, "", "failed", err.Error())
		return res, err
	}
	metrics.InventoryGauge.Set(float64(res.Inventory))

	res.CreateErr = r.exec(ctx, res.RunID, res.Create)
	if res.CreateErr == nil {
		metrics.PartitionsCreated.Add(float64(len(res.Plan.Create)))
	}
	res.RetireErr = r.exec(ctx, res.RunID, res.Retire)
	if res.RetireErr == nil && res.Plan.HasRetire() {
		metrics.PartitionsRetired.Inc()
	}

	created := make([]string, 0, len(res.Plan.Create))
	for _, k := range res.Plan.Create {
		created = append(created, string(k))
	}
	if err := res.Err(); err != nil {
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		r.events.Tick(res.RunID, res.Plan.AsOf, created, string(res.Plan.Retire), "failed", err.Error())
		return res, err
	}
	metrics.TicksTotal.WithLabelValues("success").Inc()
	r.events.Tick(res.RunID, res.Plan.AsOf, created, string(res.Plan.Retire), "success", "")
	return res, nil
}

// PreviewBootstrap renders the initial layout and batch without executing.
func (r *Rotator) PreviewBootstrap(asOf time.Time) (ddl.Layout, ddl.Batch, error) {
	l, err := r.builder.PlanLayout(asOf, r.window)
	if err != nil {
		return ddl.Layout{}, ddl.Batch{}, err
	}
	return l, r.builder.Bootstrap(l), nil
}

// Bootstrap creates the whole initial window and moves the table onto the
// scheme in one batch. Running it twice fails on the store side.
func (r *Rotator) Bootstrap(ctx context.Context, asOf time.Time) (ddl.Layout, error) {
	l, batch, err := r.PreviewBootstrap(asOf)
	if err != nil {
		return ddl.Layout{}, err
	}
	unlock, err := r.acquire(ctx)
	if err != nil {
		return l, err
	}
	defer r.release(ctx, unlock)
	if err := r.exec(ctx, r.newID(), batch); err != nil {
		return l, err
	}
	metrics.PartitionsCreated.Add(float64(len(l.Boundaries)))
	return l, nil
}

func (r *Rotator) exec(ctx context.Context, runID string, batch ddl.Batch) error {
	if batch.Empty() {
		return nil
	}
	err := r.store.Exec(ctx, batch)
	kind := string(batch.Kind)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues(kind, "failed").Inc()
		r.events.Batch(runID, kind, batch.Len(), false, err.Error())
		return fmt.Errorf("%s batch: %w", kind, err)
	}
	metrics.BatchesTotal.WithLabelValues(kind, "success").Inc()
	r.events.Batch(runID, kind, batch.Len(), true, "")
	return nil
}

func (r *Rotator) acquire(ctx context.Context) (data.Unlock, error) {
	unlock, err := r.lock.Lock(ctx)
	switch {
	case errors.Is(err, data.ErrLockHeld):
		metrics.LockContendedTotal.Inc()
		r.events.Lock("contended", r.lock.Backend(), false, err.Error())
		return nil, err
	case err != nil:
		r.events.Lock("acquire", r.lock.Backend(), false, err.Error())
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	r.events.Lock("acquire", r.lock.Backend(), true, "")
	return unlock, nil
}

func (r *Rotator) release(ctx context.Context, unlock data.Unlock) {
	// The tick context may already be cancelled; release on a fresh one.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := unlock(rctx); err != nil {
		r.events.Lock("release", r.lock.Backend(), false, err.Error())
		return
	}
	r.events.Lock("release", r.lock.Backend(), true, "")
}
