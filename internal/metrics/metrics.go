package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal         = prom.NewCounterVec(prom.CounterOpts{Name: "rotator_ticks_total", Help: "Rotation ticks by result"}, []string{"result"})
	BatchesTotal       = prom.NewCounterVec(prom.CounterOpts{Name: "rotator_batches_total", Help: "Executed DDL batches by kind and result"}, []string{"kind", "result"})
	PartitionsCreated  = prom.NewCounter(prom.CounterOpts{Name: "rotator_partitions_created_total", Help: "Partitions created ahead of need"})
	PartitionsRetired  = prom.NewCounter(prom.CounterOpts{Name: "rotator_partitions_retired_total", Help: "Partitions merged away behind the retention edge"})
	InventoryGauge     = prom.NewGauge(prom.GaugeOpts{Name: "rotator_inventory_partitions", Help: "Non-floor partitions seen in the last inventory read"})
	TickDuration       = prom.NewHistogram(prom.HistogramOpts{Name: "rotator_tick_duration_seconds", Help: "Wall time of one rotation tick", Buckets: prom.ExponentialBuckets(0.05, 2, 12)})
	LockContendedTotal = prom.NewCounter(prom.CounterOpts{Name: "rotator_lock_contended_total", Help: "Ticks skipped because another instance held the lock"})
)

func init() {
	prom.MustRegister(TicksTotal, BatchesTotal, PartitionsCreated, PartitionsRetired, InventoryGauge, TickDuration, LockContendedTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
