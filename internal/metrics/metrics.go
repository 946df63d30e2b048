package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	rangesProcessed   prometheus.Counter
	rangesFailed      prometheus.Counter
	blocksProcessed   prometheus.Counter
	transfersDecoded  prometheus.Counter
	transfersAccepted prometheus.Counter
	missingReceipts   prometheus.Counter
	notifications     *prometheus.CounterVec
	checkpointHeight  prometheus.Gauge
	errors            prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		prometheus.MustRegister(metrics.collectors()...)
	})
	return metrics
}

// NewUnregistered builds a Metrics instance registered with reg instead of the default registry.
func NewUnregistered(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		rangesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_ranges_processed_total",
			Help: "Committed ranges fully processed and acknowledged",
		}),
		rangesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_ranges_failed_total",
			Help: "Committed ranges left unacknowledged after a collaborator fault",
		}),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_blocks_processed_total",
			Help: "Total number of blocks processed",
		}),
		transfersDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_transfers_decoded_total",
			Help: "Transfer logs decoded",
		}),
		transfersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_transfers_accepted_total",
			Help: "Decoded transfers accepted by the filter",
		}),
		missingReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_missing_receipts_total",
			Help: "Blocks for which the host had no receipts",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erc20_watch_notifications_total",
			Help: "Chain notifications consumed, by kind",
		}, []string{"kind"}),
		checkpointHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "erc20_watch_checkpoint_height",
			Help: "Last acknowledged block height",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erc20_watch_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rangesProcessed,
		m.rangesFailed,
		m.blocksProcessed,
		m.transfersDecoded,
		m.transfersAccepted,
		m.missingReceipts,
		m.notifications,
		m.checkpointHeight,
		m.errors,
	}
}

// RangeProcessed records an acknowledged range of n blocks.
func (m *Metrics) RangeProcessed(blocks int) {
	if m != nil {
		m.rangesProcessed.Inc()
		m.blocksProcessed.Add(float64(blocks))
	}
}

func (m *Metrics) RangeFailed() {
	if m != nil {
		m.rangesFailed.Inc()
	}
}

func (m *Metrics) TransfersDecoded(n int) {
	if m != nil {
		m.transfersDecoded.Add(float64(n))
	}
}

func (m *Metrics) TransfersAccepted(n int) {
	if m != nil {
		m.transfersAccepted.Add(float64(n))
	}
}

func (m *Metrics) MissingReceipts() {
	if m != nil {
		m.missingReceipts.Inc()
	}
}

// Notification counts a consumed notification of the given kind.
func (m *Metrics) Notification(kind string) {
	if m != nil {
		m.notifications.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Checkpoint(height uint64) {
	if m != nil {
		m.checkpointHeight.Set(float64(height))
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
