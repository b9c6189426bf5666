// Package metrics exposes Prometheus collectors for an open database.
//
// Every database owns its own set of collectors, labeled with the database
// path and session ID, so several databases can share one registry.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

var buckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Collector holds the metrics of one database.
type Collector struct {
	reg prometheus.Registerer

	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	iterators prometheus.Gauge
	families  prometheus.Gauge
}

// New builds the collectors and registers them with reg. A nil reg keeps the
// collectors unregistered; they still count and can be read in tests.
func New(reg prometheus.Registerer, path, session string) (*Collector, error) {
	labels := prometheus.Labels{"path": path, "session": session}
	c := &Collector{
		reg: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rockybind_operations_total",
			Help:        "Database operations by kind and outcome.",
			ConstLabels: labels,
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "rockybind_operation_seconds",
			Help:        "Latency of database operations.",
			ConstLabels: labels,
			Buckets:     buckets,
		}, []string{"op"}),
		iterators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rockybind_live_iterators",
			Help:        "Iterators currently registered with the database.",
			ConstLabels: labels,
		}),
		families: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rockybind_column_families",
			Help:        "Column family handles currently registered with the database.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return c, nil
	}

	var registered []prometheus.Collector
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			for _, r := range registered {
				reg.Unregister(r)
			}
			return nil, err
		}
		registered = append(registered, col)
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.ops, c.latency, c.iterators, c.families}
}

// Observe records one operation that started at start. notFound marks reads
// that completed without a value.
func (c *Collector) Observe(op string, start time.Time, notFound bool, err error) {
	if c == nil {
		return
	}
	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
	case notFound:
		result = ResultNotFound
	}
	c.ops.WithLabelValues(op, result).Inc()
	c.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IteratorOpened increments the live iterator gauge.
func (c *Collector) IteratorOpened() {
	if c != nil {
		c.iterators.Inc()
	}
}

// IteratorsClosed decrements the live iterator gauge by n.
func (c *Collector) IteratorsClosed(n int) {
	if c != nil {
		c.iterators.Sub(float64(n))
	}
}

// SetColumnFamilies sets the column family gauge.
func (c *Collector) SetColumnFamilies(n int) {
	if c != nil {
		c.families.Set(float64(n))
	}
}

// LiveIteratorsGauge returns the live iterator gauge.
func (c *Collector) LiveIteratorsGauge() prometheus.Gauge { return c.iterators }

// ColumnFamiliesGauge returns the column family gauge.
func (c *Collector) ColumnFamiliesGauge() prometheus.Gauge { return c.families }

// Unregister removes the collectors from the registry they were registered
// with.
func (c *Collector) Unregister() {
	if c == nil || c.reg == nil {
		return
	}
	for _, col := range c.collectors() {
		c.reg.Unregister(col)
	}
}

// IsAlreadyRegistered reports whether err comes from registering a second
// database with the same path and session on one registry.
func IsAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
