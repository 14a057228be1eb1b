// Package metrics содержит метрики Prometheus для запусков начислений и HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics хранит метрики сервиса в собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	positionsTotal *prometheus.CounterVec
	creditedTotal  prometheus.Counter
	runDuration    prometheus.Histogram

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New создаёт и регистрирует метрики.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accrual_runs_total",
			Help: "Accrual batch runs by outcome.",
		}, []string{"outcome"}),
		positionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accrual_positions_total",
			Help: "Positions handled by accrual runs by result.",
		}, []string{"result"}),
		creditedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accrual_credited_amount_total",
			Help: "Total amount credited to wallets by accrual runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accrual_run_duration_seconds",
			Help:    "Accrual batch run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 600},
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.runsTotal,
		m.positionsTotal,
		m.creditedTotal,
		m.runDuration,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// RunFinished учитывает завершённый запуск.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// PositionHandled учитывает результат обработки позиции.
func (m *Metrics) PositionHandled(result string) {
	m.positionsTotal.WithLabelValues(result).Inc()
}

// Credited учитывает зачисленную сумму.
func (m *Metrics) Credited(amount decimal.Decimal) {
	m.creditedTotal.Add(amount.InexactFloat64())
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument измеряет число запросов, задержку и запросы в полёте.
// В метку path попадает шаблон маршрута chi, а не исходный путь.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}

		m.httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(labels...).Inc()
	})
}
