package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buildingai",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buildingai",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Detection metrics
	SubRegionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "subregion_requests_total",
		Help:      "Sub-region requests by endpoint and outcome (ok, error, timeout)",
	}, []string{"endpoint", "outcome"})

	SubRegionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "subregion_duration_seconds",
		Help:      "Latency of sub-region requests to the detection service",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 500},
	}, []string{"endpoint"})

	RegionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "regions_rejected_total",
		Help:      "Regions rejected before dispatch because the tile estimate exceeded the ceiling",
	})

	RegionTiles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "region_tiles",
		Help:      "Tile estimate of regions submitted for detection",
		Buckets:   []float64{1, 2, 4, 8, 12, 16, 36, 60, 120},
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "runs_total",
		Help:      "Detection runs by terminal status",
	}, []string{"status"})

	BuildingsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "buildings_detected_total",
		Help:      "Buildings returned to callers after deduplication",
	})

	BorderDuplicatesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "detection",
		Name:      "border_duplicates_removed_total",
		Help:      "Features dropped as near-duplicates across sub-region borders",
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buildingai",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildingai",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buildingai",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buildingai",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buildingai",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
//
// The argument is typed loosely so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
