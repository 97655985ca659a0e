// Package metrics exposes prometheus collectors for the synchronizer, the insertion
// queue and the generation gate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phonesync/api/internal/merge"
	"phonesync/api/internal/queue"
)

const namespace = "phonesync"

type Metrics struct {
	registry *prometheus.Registry

	applies      *prometheus.CounterVec
	applyLatency *prometheus.HistogramVec
	merged       *prometheus.CounterVec
	inserts      *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	queueDone    *prometheus.CounterVec
	gateBusy     prometheus.Gauge
	gateFlips    prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		applies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "applies_total",
			Help:      "Read-merge-write cycles by source and outcome.",
		}, []string{"source", "outcome"}),
		applyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "apply_seconds",
			Help:      "Duration of read-merge-write cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"source"}),
		merged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "records_total",
			Help:      "Records added or recognised as duplicates by merges.",
		}, []string{"kind"}),
		inserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "inserts_total",
			Help:      "Insert requests by result kind.",
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending insertions.",
		}),
		queueDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items_total",
			Help:      "Insertions that left the queue by outcome.",
		}, []string{"outcome"}),
		gateBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "busy",
			Help:      "1 while the host is generating.",
		}),
		gateFlips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "transitions_total",
			Help:      "Busy/idle transitions observed by the gate.",
		}),
	}
}

func (m *Metrics) ObserveApply(source string, stats merge.Stats, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.applies.WithLabelValues(source, outcome).Inc()
	m.applyLatency.WithLabelValues(source).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	m.merged.WithLabelValues("thread").Add(float64(stats.NewThreads))
	m.merged.WithLabelValues("reply").Add(float64(stats.NewReplies))
	m.merged.WithLabelValues("subreply").Add(float64(stats.NewSubReplies))
	m.merged.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
}

func (m *Metrics) ObserveInsert(kind string) {
	m.inserts.WithLabelValues(kind).Inc()
}

// QueueHooks returns hooks that keep the queue collectors current.
func (m *Metrics) QueueHooks() queue.Hooks {
	return queue.Hooks{
		Applied: func(queue.Item) { m.queueDone.WithLabelValues("applied").Inc() },
		Failed:  func(queue.Item, error) { m.queueDone.WithLabelValues("failed").Inc() },
		Evicted: func(queue.Item) { m.queueDone.WithLabelValues("evicted").Inc() },
		Depth:   func(n int) { m.queueDepth.Set(float64(n)) },
	}
}

// GateChanged is meant for gate.Options.OnChange.
func (m *Metrics) GateChanged(busy bool) {
	m.gateFlips.Inc()
	if busy {
		m.gateBusy.Set(1)
		return
	}
	m.gateBusy.Set(0)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
