// Package metrics exposes grader metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"labyrinth/internal/grading/model"
	"labyrinth/internal/maze"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labyrinth"

// Collector owns a registry with every grader metric.
type Collector struct {
	registry *prometheus.Registry

	submissionsTotal     *prometheus.CounterVec
	validationRejections prometheus.Counter
	escapeFindings       prometheus.Counter
	sandboxDuration      *prometheus.HistogramVec
	queuePending         prometheus.Gauge
	queueProcessing      prometheus.Gauge
	sessionsActive       prometheus.Gauge
	movesTotal           *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// NewCollector registers the grader metrics on a fresh registry together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Graded submissions by final status",
		}, []string{"status"}),
		validationRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Submissions rejected by static validation",
		}),
		escapeFindings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filesystem_escape_findings_total",
			Help:      "Filesystem escape patterns found in executed code",
		}),
		sandboxDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_duration_seconds",
			Help:      "Wall time of sandbox executions",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "outcome"}),
		queuePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Submissions waiting for a worker",
		}),
		queueProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_processing",
			Help:      "Submissions being graded",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live maze sessions",
		}),
		movesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Moves by outcome",
		}, []string{"status"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) SubmissionFinished(status model.Status) {
	c.submissionsTotal.WithLabelValues(string(status)).Inc()
}

func (c *Collector) ValidationRejected() {
	c.validationRejections.Inc()
}

func (c *Collector) EscapeFindings(n int) {
	c.escapeFindings.Add(float64(n))
}

func (c *Collector) SandboxExecuted(provider, outcome string, elapsed time.Duration) {
	c.sandboxDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

func (c *Collector) QueueDepth(pending, processing int) {
	c.queuePending.Set(float64(pending))
	c.queueProcessing.Set(float64(processing))
}

// SessionsActive implements maze.Observer.
func (c *Collector) SessionsActive(n int) {
	c.sessionsActive.Set(float64(n))
}

// MoveRecorded implements maze.Observer.
func (c *Collector) MoveRecorded(status maze.MoveStatus) {
	c.movesTotal.WithLabelValues(string(status)).Inc()
}

// HTTPMiddleware records request counts and latency by route template.
func (c *Collector) HTTPMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.httpRequestsTotal.WithLabelValues(ctx.Request.Method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(ctx.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

var _ maze.Observer = (*Collector)(nil)
