// Package metrics implements the metrics collector (component C7):
// per-sandbox CPU %, resident memory, and rootfs disk bytes, polled on
// demand rather than scraped on an interval — there is no retained time
// series, only the last sample the supervisor (C3) reported.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sandboxRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "microsandbox_sandbox_running",
			Help: "1 if the sandbox's microVM is currently running, else 0",
		},
		[]string{"namespace", "name"},
	)

	sandboxCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "microsandbox_sandbox_cpu_usage_percent",
			Help: "Sandbox CPU utilization as a percentage of one core",
		},
		[]string{"namespace", "name"},
	)

	sandboxMemoryUsageMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "microsandbox_sandbox_memory_usage_mb",
			Help: "Sandbox resident memory in MiB",
		},
		[]string{"namespace", "name"},
	)

	sandboxDiskUsageBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "microsandbox_sandbox_disk_usage_bytes",
			Help: "Sandbox rootfs upper directory size in bytes",
		},
		[]string{"namespace", "name"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microsandbox_http_requests_total",
			Help: "Total JSON-RPC HTTP requests",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		sandboxRunning,
		sandboxCPUUsage,
		sandboxMemoryUsageMB,
		sandboxDiskUsageBytes,
		httpRequestsTotal,
	)
}

// Sample matches the shape the registry (C4) hands back from a supervisor's
// cached metrics sample.
type Sample struct {
	Running     bool
	CPUUsage    *float64
	MemoryUsage *int64
	DiskUsage   *int64
}

// Collector mirrors the last observed sample for each sandbox into
// Prometheus gauges. It never polls on its own — Observe is called at the
// point sandbox.metrics.get already fetched a fresh sample from the
// registry, so the gauges always reflect "last known", never a retained
// history.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

// Observe records sample as the current reading for (namespace, name).
func (c *Collector) Observe(namespace, name string, sample Sample) {
	running := 0.0
	if sample.Running {
		running = 1.0
	}
	sandboxRunning.WithLabelValues(namespace, name).Set(running)

	if sample.CPUUsage != nil {
		sandboxCPUUsage.WithLabelValues(namespace, name).Set(*sample.CPUUsage)
	}
	if sample.MemoryUsage != nil {
		sandboxMemoryUsageMB.WithLabelValues(namespace, name).Set(float64(*sample.MemoryUsage))
	}
	if sample.DiskUsage != nil {
		sandboxDiskUsageBytes.WithLabelValues(namespace, name).Set(float64(*sample.DiskUsage))
	}
}

// Forget removes a stopped sandbox's gauges so a future scrape doesn't
// keep reporting a stale last value for a key that no longer exists.
func (c *Collector) Forget(namespace, name string) {
	sandboxRunning.DeleteLabelValues(namespace, name)
	sandboxCPUUsage.DeleteLabelValues(namespace, name)
	sandboxMemoryUsageMB.DeleteLabelValues(namespace, name)
	sandboxDiskUsageBytes.DeleteLabelValues(namespace, name)
}

// Handler returns an HTTP handler for an optional /metrics scrape
// endpoint, exposing whatever gauges Observe has set so far.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware instruments every JSON-RPC HTTP request by status code.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			_ = time.Since(start)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
			return err
		}
	}
}
