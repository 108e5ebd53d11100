// Package monitor wires the engine's ambient metrics: Prometheus gauges
// for budget usage and spill activity, plus a disk-I/O gauge for the
// configured spill root, the way aistore's stats package surfaces runtime
// counters and etalazz-vsa exposes its own via prometheus/client_golang.
package monitor

import (
	"github.com/lufia/iostat"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/emsqrt/internal/budget"
)

// Registry bundles the metrics exposed by one engine instance.
type Registry struct {
	reg *prometheus.Registry

	budgetUsed     prometheus.Gauge
	budgetCap      prometheus.Gauge
	frontierSize   prometheus.Gauge
	segmentsWritten prometheus.Counter
	segmentsRead    prometheus.Counter
	blockDuration   prometheus.Histogram
	diskBusyPct     prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		budgetUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emsqrt_budget_used_bytes", Help: "current bytes reserved from the memory budget",
		}),
		budgetCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emsqrt_budget_capacity_bytes", Help: "configured memory budget capacity",
		}),
		frontierSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emsqrt_te_frontier_size", Help: "number of TE blocks currently materialized",
		}),
		segmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emsqrt_spill_segments_written_total", Help: "spill segments written",
		}),
		segmentsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emsqrt_spill_segments_read_total", Help: "spill segments read",
		}),
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "emsqrt_block_eval_seconds", Help: "eval_block wall time",
			Buckets: prometheus.DefBuckets,
		}),
		diskBusyPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emsqrt_spill_disk_busy_percent", Help: "spill root disk busy percentage (best-effort)",
		}),
	}
	reg.MustRegister(r.budgetUsed, r.budgetCap, r.frontierSize, r.segmentsWritten, r.segmentsRead, r.blockDuration, r.diskBusyPct)
	return r
}

func (r *Registry) Registerer() prometheus.Registerer { return r.reg }
func (r *Registry) Gatherer() prometheus.Gatherer      { return r.reg }

// SampleBudget snapshots the given budget's used/capacity into the gauges.
func (r *Registry) SampleBudget(b *budget.Budget) {
	r.budgetUsed.Set(float64(b.UsedBytes()))
	r.budgetCap.Set(float64(b.CapacityBytes()))
}

func (r *Registry) SetFrontierSize(n int)   { r.frontierSize.Set(float64(n)) }
func (r *Registry) IncSegmentsWritten()     { r.segmentsWritten.Inc() }
func (r *Registry) IncSegmentsRead()        { r.segmentsRead.Inc() }
func (r *Registry) ObserveBlockSeconds(s float64) { r.blockDuration.Observe(s) }

// SampleDiskIO best-effort samples disk busy percentage for the device
// backing the given path's filesystem, using lufia/iostat. Devices that
// cannot be resolved (e.g. network mounts, non-Linux) leave the gauge at
// its last known value rather than failing the run - this is an advisory
// ambient metric, not part of the budget contract.
func (r *Registry) SampleDiskIO(device string) {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		return
	}
	for _, d := range drives {
		if d.Name != device {
			continue
		}
		total := d.Time.Seconds()
		if total <= 0 {
			return
		}
		busy := float64(d.InBytes+d.OutBytes) / total
		r.diskBusyPct.Set(busy)
		return
	}
}
