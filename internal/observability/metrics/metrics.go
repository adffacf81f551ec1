package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config labels every engine metric with service identity.
type Config struct {
	ServiceName string
	Environment string
}

// EngineMetrics counts ledger and lifecycle outcomes.
type EngineMetrics struct {
	cfg Config

	deducts   *prometheus.CounterVec
	refunds   *prometheus.CounterVec
	rollovers *prometheus.CounterVec
	sweepRuns *prometheus.CounterVec
	sweepErrs *prometheus.CounterVec
}

const (
	RolloverKindRenew  = "renew"
	RolloverKindDemote = "demote"

	SweepReasonDeadlineExceeded = "deadline_exceeded"
	SweepReasonError            = "error"
)

var (
	engineMu       sync.Mutex
	engineInstance *EngineMetrics
)

// EngineWithConfig initializes the shared engine metrics once.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engineInstance == nil {
		engineInstance = newEngineMetrics(cfg)
	}
	return engineInstance
}

// Engine returns the shared engine metrics, initializing with empty
// labels when no config was installed.
func Engine() *EngineMetrics {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engineInstance == nil {
		engineInstance = newEngineMetrics(Config{})
	}
	return engineInstance
}

// ResetEngineMetricsForTest drops the shared instance so tests can swap
// the prometheus registry.
func ResetEngineMetricsForTest() {
	engineMu.Lock()
	defer engineMu.Unlock()
	engineInstance = nil
}

func newEngineMetrics(cfg Config) *EngineMetrics {
	return &EngineMetrics{
		cfg: cfg,
		deducts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_ledger_deducts_total",
			Help: "Token deduction attempts by outcome.",
		}, []string{"service", "env", "outcome"}),
		refunds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_ledger_refunds_total",
			Help: "Token refunds applied.",
		}, []string{"service", "env"}),
		rollovers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_subscription_rollovers_total",
			Help: "Period rollovers by kind.",
		}, []string{"service", "env", "kind"}),
		sweepRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_sweep_job_runs_total",
			Help: "Sweep job executions.",
		}, []string{"service", "env", "job"}),
		sweepErrs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_sweep_job_errors_total",
			Help: "Sweep job failures by reason.",
		}, []string{"service", "env", "job", "reason"}),
	}
}

func (m *EngineMetrics) IncDeduct(outcome string) {
	m.deducts.WithLabelValues(m.cfg.ServiceName, m.cfg.Environment, outcome).Inc()
}

func (m *EngineMetrics) IncRefund() {
	m.refunds.WithLabelValues(m.cfg.ServiceName, m.cfg.Environment).Inc()
}

func (m *EngineMetrics) IncRollover(kind string) {
	m.rollovers.WithLabelValues(m.cfg.ServiceName, m.cfg.Environment, kind).Inc()
}

func (m *EngineMetrics) IncSweepRun(job string) {
	m.sweepRuns.WithLabelValues(m.cfg.ServiceName, m.cfg.Environment, job).Inc()
}

func (m *EngineMetrics) IncSweepError(job, reason string) {
	m.sweepErrs.WithLabelValues(m.cfg.ServiceName, m.cfg.Environment, job, reason).Inc()
}

// New provides the engine metrics through fx.
func New(cfg Config) *EngineMetrics {
	return EngineWithConfig(cfg)
}

// HTTPMetrics instruments the gin server.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stylora_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stylora_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
