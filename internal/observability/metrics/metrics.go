// Package metrics 以 Prometheus 格式暴露 API 请求与运行结果的指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadflow"

// Recorder 持有独立的注册表，进程内可以创建多个互不干扰的实例。
type Recorder struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	steps        *prometheus.CounterVec
}

// New 创建 Recorder 并注册全部指标。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs finished, by outcome.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run from session open to graph end.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_steps_total",
			Help:      "Graph steps executed, by node.",
		}, []string{"node"}),
	}
	r.registry.MustRegister(r.httpRequests, r.httpLatency, r.runs, r.runDuration, r.steps)
	return r
}

// ObserveHTTPRequest 记录一次请求。
func (r *Recorder) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveStep 记录编排图执行了一步。
func (r *Recorder) ObserveStep(node string) {
	r.steps.WithLabelValues(node).Inc()
}

// ObserveRun 记录一次运行的最终状态与耗时。
func (r *Recorder) ObserveRun(status string, duration time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	if duration > 0 {
		r.runDuration.Observe(duration.Seconds())
	}
}

// Handler 以 Prometheus 文本格式输出指标。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware 包装 next，按 handler 名称记录请求数与耗时。
func (r *Recorder) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.ObserveHTTPRequest(handler, req.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
