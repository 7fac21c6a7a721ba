// Package prom implements the observability hooks with Prometheus metrics.
//
// The collector registers its metrics with promauto's default registry,
// so wiring it up is two lines at startup:
//
//	collector := prom.NewCollector()
//	collector.Register()
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/siostam/siostam/pkg/observability"
)

// Collector implements the observability hook interfaces using Prometheus.
type Collector struct {
	refreshCycles   *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	generation      prometheus.Gauge

	fetches       *prometheus.CounterVec
	fetchServices *prometheus.GaugeVec

	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	artifactBytes  prometheus.Gauge

	cacheOps *prometheus.CounterVec
}

// NewCollector creates the collector and registers its metrics.
func NewCollector() *Collector {
	return &Collector{
		refreshCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siostam_refresh_cycles_total",
				Help: "Total number of refresh cycles by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		refreshDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "siostam_refresh_duration_seconds",
				Help:    "Refresh cycle duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		generation: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siostam_snapshot_generation",
				Help: "Generation number of the latest snapshot",
			},
		),
		fetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siostam_origin_fetches_total",
				Help: "Total number of origin fetches by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),
		fetchServices: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "siostam_origin_services",
				Help: "Number of service descriptions in the last successful fetch",
			},
			[]string{"origin"},
		),
		renders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siostam_renders_total",
				Help: "Total number of layout engine invocations by outcome",
			},
			[]string{"outcome"},
		),
		renderDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "siostam_render_duration_seconds",
				Help:    "Layout engine invocation duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		artifactBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siostam_artifact_bytes",
				Help: "Size in bytes of the latest rendered diagram",
			},
		),
		cacheOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siostam_cache_operations_total",
				Help: "Cache hits and misses by key type",
			},
			[]string{"key_type", "result"},
		),
	}
}

// Register installs the collector as the global hooks implementation.
func (c *Collector) Register() {
	observability.SetRefreshHooks(c)
	observability.SetFetchHooks(c)
	observability.SetRenderHooks(c)
	observability.SetCacheHooks(c)
}

// OnRefreshStart implements observability.RefreshHooks.
func (c *Collector) OnRefreshStart(ctx context.Context, trigger string) {}

// OnRefreshComplete implements observability.RefreshHooks.
func (c *Collector) OnRefreshComplete(ctx context.Context, trigger string, generation uint64, changed bool, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.refreshCycles.WithLabelValues(trigger, outcome).Inc()
	c.refreshDuration.Observe(duration.Seconds())
	if err == nil {
		c.generation.Set(float64(generation))
	}
}

// OnFetchStart implements observability.FetchHooks.
func (c *Collector) OnFetchStart(ctx context.Context, origin string) {}

// OnFetchComplete implements observability.FetchHooks.
func (c *Collector) OnFetchComplete(ctx context.Context, origin string, descriptions int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.fetches.WithLabelValues(origin, outcome).Inc()
	if err == nil {
		c.fetchServices.WithLabelValues(origin).Set(float64(descriptions))
	}
}

// OnRenderStart implements observability.RenderHooks.
func (c *Collector) OnRenderStart(ctx context.Context, generation uint64) {}

// OnRenderComplete implements observability.RenderHooks.
func (c *Collector) OnRenderComplete(ctx context.Context, generation uint64, bytes int, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.renders.WithLabelValues(outcome).Inc()
	c.renderDuration.Observe(duration.Seconds())
	if err == nil {
		c.artifactBytes.Set(float64(bytes))
	}
}

// OnCacheHit implements observability.CacheHooks.
func (c *Collector) OnCacheHit(ctx context.Context, keyType string) {
	c.cacheOps.WithLabelValues(keyType, "hit").Inc()
}

// OnCacheMiss implements observability.CacheHooks.
func (c *Collector) OnCacheMiss(ctx context.Context, keyType string) {
	c.cacheOps.WithLabelValues(keyType, "miss").Inc()
}

// Interface checks.
var (
	_ observability.RefreshHooks = (*Collector)(nil)
	_ observability.FetchHooks   = (*Collector)(nil)
	_ observability.RenderHooks  = (*Collector)(nil)
	_ observability.CacheHooks   = (*Collector)(nil)
)
