// Package metrics exposes Prometheus collectors for parcel accounting and
// interest management. Every recording method is safe on a nil *Collector.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the region server metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	PrimRebuilds        prometheus.Counter
	PrimRebuildDuration prometheus.Histogram
	PrimTaints          *prometheus.CounterVec
	PrimIncremental     *prometheus.CounterVec
	PrimSkipped         prometheus.Counter
	ParcelPrims         *prometheus.GaugeVec

	InterestTicks        prometheus.Counter
	InterestTickDuration prometheus.Histogram
	InterestCulled       prometheus.Counter
	InterestRanked       prometheus.Counter
	PriorityFaults       *prometheus.CounterVec
}

// New registers the collectors against reg, defaulting to the global
// Prometheus registry when nil. Re-registering returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.PrimRebuilds, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "primcount_rebuilds_total",
		Help: "Total number of full parcel prim-count rebuilds.",
	})); err != nil {
		return nil, err
	}
	if c.PrimRebuildDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "primcount_rebuild_duration_seconds",
		Help:    "Full parcel prim-count rebuild latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms .. ~1.6s
	})); err != nil {
		return nil, err
	}
	if c.PrimTaints, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "primcount_taints_total",
		Help: "Total number of prim-count cache invalidations, labeled by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.PrimIncremental, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "primcount_incremental_updates_total",
		Help: "Incremental prim-count updates applied to a clean cache, labeled by operation.",
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if c.PrimSkipped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "primcount_skipped_objects_total",
		Help: "Objects skipped during a rebuild because they could not be counted.",
	})); err != nil {
		return nil, err
	}
	if c.ParcelPrims, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parcel_prims",
		Help: "Prims on a parcel by owner relationship, as of the last report.",
	}, []string{"parcel", "category"})); err != nil {
		return nil, err
	}

	if c.InterestTicks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interest_ticks_total",
		Help: "Total number of interest update ticks.",
	})); err != nil {
		return nil, err
	}
	if c.InterestTickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "interest_tick_duration_seconds",
		Help:    "Time to cull and rank candidates for every observer in a tick.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})); err != nil {
		return nil, err
	}
	if c.InterestCulled, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interest_culled_total",
		Help: "Candidate entities rejected by the visibility culler.",
	})); err != nil {
		return nil, err
	}
	if c.InterestRanked, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interest_ranked_total",
		Help: "Candidate entities scored by the update prioritizer.",
	})); err != nil {
		return nil, err
	}
	if c.PriorityFaults, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "interest_priority_faults_total",
		Help: "Priority evaluations that degraded to +Inf, labeled by scheme.",
	}, []string{"scheme"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler returns the /metrics HTTP handler for the collector's gatherer.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRebuild(d time.Duration) {
	if c == nil {
		return
	}
	c.PrimRebuilds.Inc()
	c.PrimRebuildDuration.Observe(d.Seconds())
}

func (c *Collector) IncTaint(reason string) {
	if c == nil {
		return
	}
	c.PrimTaints.WithLabelValues(reason).Inc()
}

func (c *Collector) IncIncremental(op string) {
	if c == nil {
		return
	}
	c.PrimIncremental.WithLabelValues(op).Inc()
}

func (c *Collector) IncSkipped() {
	if c == nil {
		return
	}
	c.PrimSkipped.Inc()
}

// SetParcelPrims records one parcel's counters.
func (c *Collector) SetParcelPrims(parcel string, owner, group, others, selected int) {
	if c == nil {
		return
	}
	c.ParcelPrims.WithLabelValues(parcel, "owner").Set(float64(owner))
	c.ParcelPrims.WithLabelValues(parcel, "group").Set(float64(group))
	c.ParcelPrims.WithLabelValues(parcel, "others").Set(float64(others))
	c.ParcelPrims.WithLabelValues(parcel, "selected").Set(float64(selected))
}

// ResetParcelPrims drops every parcel series (parcels may have been removed).
func (c *Collector) ResetParcelPrims() {
	if c == nil {
		return
	}
	c.ParcelPrims.Reset()
}

func (c *Collector) ObserveTick(d time.Duration, ranked, culled int) {
	if c == nil {
		return
	}
	c.InterestTicks.Inc()
	c.InterestTickDuration.Observe(d.Seconds())
	c.InterestRanked.Add(float64(ranked))
	c.InterestCulled.Add(float64(culled))
}

func (c *Collector) IncPriorityFault(scheme string) {
	if c == nil {
		return
	}
	c.PriorityFaults.WithLabelValues(scheme).Inc()
}

// register registers col, returning the already registered collector of the
// same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("registering collector: incompatible type already registered: %w", err)
		}
		var zero T
		return zero, fmt.Errorf("registering collector: %w", err)
	}
	return col, nil
}
