// Package metrics exposes Prometheus counters for the proxy pipeline. All
// recorder methods are nil-safe so handlers can run without metrics wired.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by handlers.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeForwarded   = "forwarded"
	OutcomeOriginError = "origin_error"
	OutcomeBadGateway  = "bad_gateway"
	OutcomeInternal    = "internal_error"
)

// Recorder 持有独立 registry，避免测试之间共享全局指标。
type Recorder struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	originDuration *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_proxy_requests_total",
		Help: "Requests handled by the proxy, by handler and outcome",
	}, []string{"handler", "outcome"})

	originDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_proxy_origin_request_duration_seconds",
		Help:    "Latency of requests sent to the origin",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status_class"})

	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_proxy_store_errors_total",
		Help: "Cache store failures by operation",
	}, []string{"op"})

	registry.MustRegister(
		requests,
		originDuration,
		storeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Recorder{
		registry:       registry,
		requests:       requests,
		originDuration: originDuration,
		storeErrors:    storeErrors,
	}
}

// Handler 返回 Prometheus 文本格式的抓取端点。
func (m *Recorder) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Recorder) RecordRequest(handler, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(handler, outcome).Inc()
}

// ObserveOrigin 记录一次源站往返；status 为 0 表示没有拿到响应。
func (m *Recorder) ObserveOrigin(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.originDuration.WithLabelValues(method, statusClass(status)).Observe(duration.Seconds())
}

func (m *Recorder) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}
