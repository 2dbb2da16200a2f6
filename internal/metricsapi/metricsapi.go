// Package metricsapi exposes the server's FPS/latency metrics as
// Prometheus gauges and serves them alongside a Gin health endpoint,
// grounded on runZeroInc-sockstats's promhttp.Handler() wiring
// (exporter_example1/main.go) generalized from a custom Collector to
// plain prometheus.NewGauge/NewHistogram/NewCounter updates, since the metrics here are
// scalar rolling stats rather than per-connection samples.
package metricsapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lerobot-rtc/policyserver/internal/fpstracker"
)

// Collectors bundles the server's exported Prometheus metrics.
type Collectors struct {
	AvgFPS            prometheus.Gauge
	TargetFPS         prometheus.Gauge
	OneWayLatency     prometheus.Gauge
	InferenceDuration prometheus.Histogram
	RealDelay         prometheus.Histogram
	StaleInferences   prometheus.Counter
}

// NewCollectors builds and registers a fresh Collectors set against
// registry.
func NewCollectors(registry *prometheus.Registry) *Collectors {
	c := &Collectors{
		AvgFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policyserver_observation_fps",
			Help: "Rolling average observation receive rate.",
		}),
		TargetFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policyserver_observation_target_fps",
			Help: "Configured target observation rate.",
		}),
		OneWayLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policyserver_observation_one_way_latency_seconds",
			Help: "Most recent observation one-way latency.",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyserver_inference_duration_seconds",
			Help:    "Wall-clock duration of predict_action_chunk calls.",
			Buckets: prometheus.DefBuckets,
		}),
		RealDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyserver_real_delay_steps",
			Help:    "Measured real_delay (in environment steps) per inference cycle.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		StaleInferences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policyserver_stale_inferences_total",
			Help: "Inferences discarded because real_delay reached chunk_size.",
		}),
	}
	registry.MustRegister(c.AvgFPS, c.TargetFPS, c.OneWayLatency, c.InferenceDuration, c.RealDelay, c.StaleInferences)
	return c
}

// ObserveFPS updates the FPS/latency gauges from a fpstracker snapshot.
func (c *Collectors) ObserveFPS(m fpstracker.Metrics) {
	c.AvgFPS.Set(m.AvgFPS)
	c.TargetFPS.Set(m.TargetFPS)
	c.OneWayLatency.Set(m.OneWayLatency)
}

// HealthCheck reports whether the server is accepting inference
// requests; wired to the given state getter so metricsapi never
// imports internal/policyserver directly (avoiding an import cycle).
type HealthCheck func(ctx context.Context) (ready bool, detail string)

// NewRouter builds the Gin router serving /healthz and /metrics.
func NewRouter(registry *prometheus.Registry, health HealthCheck) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		ready, detail := health(c.Request.Context())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "detail": detail})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}
