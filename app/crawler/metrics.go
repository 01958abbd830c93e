package crawler

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/armored-dev/blitzmirror/pkg/ratelimit"
)

// Metrics aggregates pipeline counters for Prometheus scraping and for the
// periodic throughput log line.
type Metrics struct {
	registry *prometheus.Registry

	accountsUpdated prometheus.Counter
	accountsTouched prometheus.Counter
	accountsFailed  prometheus.Counter
	batchesFailed   prometheus.Counter
	tanksInserted   prometheus.Counter
	liveOffset      prometheus.Gauge
	lagSeconds      prometheus.Gauge

	// Cross-stage counters for the throughput log, cheap under the
	// concurrent pipeline writes.
	updated *xsync.Counter
	touched *xsync.Counter
	tanks   *xsync.Counter

	limiter *ratelimit.Limiter

	// Log-interval state, owned by the single cron goroutine.
	lastLog      time.Time
	lastRequests int64
	lastUpdated  int64
	lastTouched  int64
}

// NewMetrics builds and registers all collectors on a private registry.
func NewMetrics(limiter *ratelimit.Limiter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accountsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_accounts_updated_total",
			Help: "Accounts with new battles, snapshot rows committed.",
		}),
		accountsTouched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_accounts_touched_total",
			Help: "Accounts checked with no new battles, crawled_at advanced.",
		}),
		accountsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_accounts_failed_total",
			Help: "Accounts left untouched after exhausting retries.",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_batches_failed_total",
			Help: "Batches dropped after the summary call exhausted retries.",
		}),
		tanksInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_tank_snapshots_total",
			Help: "Tank snapshot rows committed.",
		}),
		liveOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_min_offset_seconds",
			Help: "Live minimum re-crawl offset.",
		}),
		lagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_lag_percentile_seconds",
			Help: "Observed staleness percentile across the tracked population.",
		}),
		updated: xsync.NewCounter(),
		touched: xsync.NewCounter(),
		tanks:   xsync.NewCounter(),
		limiter: limiter,
		lastLog: time.Now(),
	}

	m.registry.MustRegister(
		m.accountsUpdated, m.accountsTouched, m.accountsFailed,
		m.batchesFailed, m.tanksInserted, m.liveOffset, m.lagSeconds,
		collectors.NewGoCollector(),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "crawler_upstream_requests_total",
			Help: "Upstream API calls admitted by the rate controller.",
		}, func() float64 {
			return float64(limiter.Requests.Value())
		}),
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MarkUpdated records one committed account with its tank snapshot count.
func (m *Metrics) MarkUpdated(tanks int) {
	m.accountsUpdated.Inc()
	m.tanksInserted.Add(float64(tanks))
	m.updated.Inc()
	m.tanks.Add(int64(tanks))
}

// MarkTouched records accounts advanced without new snapshots.
func (m *Metrics) MarkTouched(n int) {
	m.accountsTouched.Add(float64(n))
	m.touched.Add(int64(n))
}

// MarkAccountFailed records an account left untouched after retries.
func (m *Metrics) MarkAccountFailed() {
	m.accountsFailed.Inc()
}

// MarkBatchFailed records a batch dropped for this cycle.
func (m *Metrics) MarkBatchFailed() {
	m.batchesFailed.Inc()
}

// ObserveLag records the lag controller's observation and decision.
func (m *Metrics) ObserveLag(lag, offset time.Duration) {
	m.lagSeconds.Set(lag.Seconds())
	m.liveOffset.Set(offset.Seconds())
}

// LogStats emits the periodic throughput line. Called from the cron tick
// goroutine only.
func (m *Metrics) LogStats(logger *zap.Logger) {
	now := time.Now()
	elapsed := now.Sub(m.lastLog).Seconds()
	if elapsed <= 0 {
		return
	}

	requests := m.limiter.Requests.Value()
	updated := m.updated.Value()
	touched := m.touched.Value()

	logger.Info("Crawler throughput",
		zap.Float64("rps", float64(requests-m.lastRequests)/elapsed),
		zap.Float64("updated_per_sec", float64(updated-m.lastUpdated)/elapsed),
		zap.Float64("touched_per_sec", float64(touched-m.lastTouched)/elapsed),
		zap.Int64("tanks_total", m.tanks.Value()))

	m.lastLog = now
	m.lastRequests = requests
	m.lastUpdated = updated
	m.lastTouched = touched
}
