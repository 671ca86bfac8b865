package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/spillcache/pkg/errors"
)

// Part deletion reasons.
const (
	ReasonConsumed = "consumed"
	ReasonDelete   = "delete"
)

// Collector records spill cache metrics in a private Prometheus registry.
// A nil or disabled Collector accepts every call and records nothing.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	partsWritten    prometheus.Counter
	partBytes       prometheus.Histogram
	partStoredBytes prometheus.Histogram
	bytesAppended   prometheus.Counter
	partsDeleted    *prometheus.CounterVec
	activeReaders   prometheus.Gauge
	readerBytes     prometheus.Counter
	errorCounter    *prometheus.CounterVec
	producerRunning prometheus.Gauge
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// DefaultConfig returns an enabled configuration in the spillcache namespace.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "spillcache",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.Enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format. A
// disabled collector serves 404.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordPartWritten records a published Part of length logical bytes that
// occupies stored bytes on disk.
func (c *Collector) RecordPartWritten(length, stored int64) {
	if !c.Enabled() {
		return
	}
	c.partsWritten.Inc()
	c.partBytes.Observe(float64(length))
	c.partStoredBytes.Observe(float64(stored))
	c.bytesAppended.Add(float64(length))
}

// RecordPartsDeleted records n Part files removed for reason.
func (c *Collector) RecordPartsDeleted(reason string, n int) {
	if !c.Enabled() || n <= 0 {
		return
	}
	c.partsDeleted.WithLabelValues(reason).Add(float64(n))
}

// ReaderOpened increments the active reader gauge.
func (c *Collector) ReaderOpened() {
	if !c.Enabled() {
		return
	}
	c.activeReaders.Inc()
}

// ReaderClosed decrements the active reader gauge.
func (c *Collector) ReaderClosed() {
	if !c.Enabled() {
		return
	}
	c.activeReaders.Dec()
}

// RecordReaderBytes records n plaintext bytes returned to a consumer.
func (c *Collector) RecordReaderBytes(n int) {
	if !c.Enabled() || n <= 0 {
		return
	}
	c.readerBytes.Add(float64(n))
}

// RecordError records an error by operation and error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.Enabled() || err == nil {
		return
	}
	c.errorCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
}

// SetProducerRunning sets the producer gauge.
func (c *Collector) SetProducerRunning(running bool) {
	if !c.Enabled() {
		return
	}
	if running {
		c.producerRunning.Set(1)
	} else {
		c.producerRunning.Set(0)
	}
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.partsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "parts_written_total",
		Help: "Total number of Parts published",
	})
	c.partBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name:    "part_bytes",
		Help:    "Logical size of published Parts in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to 256MiB
	})
	c.partStoredBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name:    "part_stored_bytes",
		Help:    "On-disk size of published Parts in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
	c.bytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "bytes_appended_total",
		Help: "Total logical bytes published",
	})
	c.partsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "parts_deleted_total",
		Help: "Total number of Part files removed",
	}, []string{"reason"})
	c.activeReaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "active_readers",
		Help: "Number of open readers",
	})
	c.readerBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "reader_bytes_total",
		Help: "Total bytes returned by readers",
	})
	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "errors_total",
		Help: "Total number of errors",
	}, []string{"operation", "code"})
	c.producerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "producer_running",
		Help: "Whether a producer is draining its source",
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.partsWritten,
		c.partBytes,
		c.partStoredBytes,
		c.bytesAppended,
		c.partsDeleted,
		c.activeReaders,
		c.readerBytes,
		c.errorCounter,
		c.producerRunning,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
