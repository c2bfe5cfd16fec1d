package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总盈亏计算与筛选的 Prometheus 指标。
// 所有方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	LTPLookups        *prometheus.CounterVec // labels: result=ok|resolve|source|empty
	PositionsTotal    *prometheus.CounterVec // labels: type
	IntegrityFailures prometheus.Counter
	ScreenerTickers   *prometheus.CounterVec // labels: outcome=candidate|rejected|skipped
	ScreenerRunDur    prometheus.Histogram
	SourceRetries     *prometheus.CounterVec // labels: source
}

// New 在独立 Registry 上注册全部指标，避免与全局默认注册表冲突。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		LTPLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desk_ltp_lookups_total",
			Help: "LTP lookups by result",
		}, []string{"result"}),
		PositionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desk_positions_classified_total",
			Help: "Positions classified by position type",
		}, []string{"type"}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "desk_position_integrity_failures_total",
			Help: "Positions with an unrecognized position type",
		}),
		ScreenerTickers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desk_screener_tickers_total",
			Help: "Screener tickers by outcome",
		}, []string{"outcome"}),
		ScreenerRunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "desk_screener_run_duration_seconds",
			Help:    "Wall time of a full screener run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SourceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desk_source_retries_total",
			Help: "Retried calls against external price and position sources",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.LTPLookups,
		m.PositionsTotal,
		m.IntegrityFailures,
		m.ScreenerTickers,
		m.ScreenerRunDur,
		m.SourceRetries,
	)

	return m
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 暴露底层注册表，便于测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveLTP(result string) {
	if m == nil {
		return
	}
	m.LTPLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePosition(positionType string) {
	if m == nil {
		return
	}
	m.PositionsTotal.WithLabelValues(positionType).Inc()
}

func (m *Metrics) ObserveIntegrityFailure() {
	if m == nil {
		return
	}
	m.IntegrityFailures.Inc()
}

func (m *Metrics) ObserveTicker(outcome string) {
	if m == nil {
		return
	}
	m.ScreenerTickers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveScreenerRun(d time.Duration) {
	if m == nil {
		return
	}
	m.ScreenerRunDur.Observe(d.Seconds())
}

func (m *Metrics) ObserveRetry(source string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(source).Inc()
}
