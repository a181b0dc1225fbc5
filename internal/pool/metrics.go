// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of a pool. A nil *Metrics records
// nothing.
type Metrics struct {
	Live        prometheus.Gauge
	Idle        prometheus.Gauge
	InUse       prometheus.Gauge
	Acquires    prometheus.Counter
	Timeouts    prometheus.Counter
	AcquireWait prometheus.Histogram
	// Dials is labelled by result, "ok" or "error".
	Dials *prometheus.CounterVec
	// Destroyed is labelled by reason: "faulted", "idle", "unhealthy" or
	// "closed".
	Destroyed *prometheus.CounterVec
}

// NewMetrics creates the pool collectors and registers them with reg. It
// panics if they are already registered, as promauto does.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Number of open connections.",
		}),
		Idle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "idle_connections",
			Help:      "Number of open connections waiting in the pool.",
		}),
		InUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_use_connections",
			Help:      "Number of connections serving a request.",
		}),
		Acquires: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Total number of connections handed out.",
		}),
		Timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_timeouts_total",
			Help:      "Total number of acquisitions that gave up waiting.",
		}),
		AcquireWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a free connection.",
			Buckets:   prometheus.DefBuckets,
		}),
		Dials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "dials_total",
			Help:      "Total number of connection attempts.",
		}, []string{"result"}),
		Destroyed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "destroyed_total",
			Help:      "Total number of connections removed from the pool.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) observe(st Stats) {
	if m == nil {
		return
	}
	m.Live.Set(float64(st.Live))
	m.Idle.Set(float64(st.Idle))
	m.InUse.Set(float64(st.InUse))
}

func (m *Metrics) acquired(wait time.Duration) {
	if m == nil {
		return
	}
	m.Acquires.Inc()
	m.AcquireWait.Observe(wait.Seconds())
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.Timeouts.Inc()
}

func (m *Metrics) dialed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Dials.WithLabelValues(result).Inc()
}

func (m *Metrics) destroyed(reason string) {
	if m == nil {
		return
	}
	m.Destroyed.WithLabelValues(reason).Inc()
}
