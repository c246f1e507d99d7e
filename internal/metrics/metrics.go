// Package metrics exposes daemon counters in the Prometheus format.
//
// Metrics uses its own registry rather than the global one, so several
// instances can coexist (one per test).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/meteo/internal/ingestion"
	"github.com/xtxerr/meteo/internal/ingestion/backpressure"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/types"
)

const namespace = "meteo"

// StoreStatser is the part of the ring buffer the metrics read.
type StoreStatser interface {
	Stats() buffer.BufferStats
	UsageRatio() float64
	IsFull() bool
	Duration() time.Duration
	Peek() (types.Sample, bool)
}

// Metrics holds every collector of the daemon.
type Metrics struct {
	registry *prometheus.Registry

	stored       prometheus.Counter
	discarded    *prometheus.CounterVec
	connected    prometheus.Gauge
	reconnects   prometheus.Counter
	lastReceived prometheus.Gauge
	lastTemp     prometheus.Gauge

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_stored_total",
			Help:      "Samples decoded, validated and written to the store.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Inbound messages dropped before reaching the store, by reason.",
		}, []string{"reason"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the MQTT session is up.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_connects_total",
			Help:      "Successful MQTT connects, including reconnects.",
		}),
		lastReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Receipt time of the newest stored sample.",
		}),
		lastTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_temperature_celsius",
			Help:      "Outdoor temperature of the newest stored sample.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"route"}),
	}

	// Pre-create every reason so the series exist at zero.
	for _, reason := range ingestion.Reasons {
		m.discarded.WithLabelValues(string(reason))
	}

	m.registry.MustRegister(
		m.stored, m.discarded, m.connected, m.reconnects,
		m.lastReceived, m.lastTemp, m.requests, m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RegisterStore exposes the ring buffer's fill level and counters.
func (m *Metrics) RegisterStore(store StoreStatser) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_samples",
			Help:      "Samples currently held in the store.",
		}, func() float64 { return float64(store.Stats().Count) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_capacity",
			Help:      "Maximum number of samples the store holds.",
		}, func() float64 { return float64(store.Stats().Capacity) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_usage_ratio",
			Help:      "Fill ratio of the store.",
		}, store.UsageRatio),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_full",
			Help:      "1 while the store is at capacity and every write evicts.",
		}, func() float64 {
			if store.IsFull() {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_window_seconds",
			Help:      "Time between the oldest and newest stored sample.",
		}, func() float64 { return store.Duration().Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_oldest_sample_timestamp_seconds",
			Help:      "Receipt time of the oldest stored sample, 0 when empty.",
		}, func() float64 {
			oldest, ok := store.Peek()
			if !ok {
				return 0
			}
			return float64(oldest.ReceivedAt.UnixNano()) / 1e9
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_evictions_total",
			Help:      "Samples evicted to make room for newer ones.",
		}, func() float64 { return float64(store.Stats().EvictCount) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_clears_total",
			Help:      "Administrative clear-all operations.",
		}, func() float64 { return float64(store.Stats().ClearCount) }),
	)
}

// BacklogStatser is the part of the event queue monitor the metrics read.
type BacklogStatser interface {
	Stats() backpressure.Stats
}

// RegisterBacklog exposes the transport event queue fill ratio and level.
func (m *Metrics) RegisterBacklog(backlog BacklogStatser) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_usage_ratio",
			Help:      "Fill ratio of the transport to pipeline event queue.",
		}, func() float64 { return backlog.Stats().Usage }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_level",
			Help:      "Backlog level: 0 normal, 1 warning, 2 critical, 3 emergency.",
		}, func() float64 { return float64(backlog.Stats().CurrentLevel) }),
	)
}

// SampleStored implements ingestion.Observer.
func (m *Metrics) SampleStored(sample types.Sample) {
	m.stored.Inc()
	m.lastReceived.Set(float64(sample.ReceivedAt.UnixNano()) / 1e9)
	m.lastTemp.Set(sample.Temperature)
}

// MessageDiscarded implements ingestion.Observer.
func (m *Metrics) MessageDiscarded(reason ingestion.DiscardReason) {
	m.discarded.WithLabelValues(string(reason)).Inc()
}

// ConnectivityChanged implements ingestion.Observer.
func (m *Metrics) ConnectivityChanged(connected bool) {
	if connected {
		m.connected.Set(1)
		m.reconnects.Inc()
		return
	}
	m.connected.Set(0)
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ ingestion.Observer = (*Metrics)(nil)
