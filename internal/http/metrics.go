package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "teambuilder"

var (
	histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "scope"})

		collectors := []prometheus.Collector{r.requestTotal, r.requestLatency, r.rateLimitHits}
		for _, collector := range collectors {
			if err := r.registerer.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = v
						} else if collector == r.rateLimitHits {
							r.rateLimitHits = v
						}
					case *prometheus.HistogramVec:
						r.requestLatency = v
					}
				}
			}
		}
		r.registerCacheMetrics()
		r.metricsInitialized = true
	})
}

// registerCacheMetrics exports the cache counters. A collector that is
// already registered keeps reporting for the cache it was created with.
func (r *Router) registerCacheMetrics() {
	if r.cache == nil {
		return
	}
	layer := r.cache
	counter := func(name, help string, read func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, read)
	}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries held by the process cache",
		}, func() float64 { return float64(layer.Len()) }),
		counter("hits_total", "Local cache hits", func() float64 { return float64(layer.Stats().Hits) }),
		counter("misses_total", "Local cache misses", func() float64 { return float64(layer.Stats().Misses) }),
		counter("evictions_total", "Entries evicted for capacity", func() float64 { return float64(layer.Stats().Evictions) }),
		counter("expirations_total", "Entries dropped after their TTL", func() float64 { return float64(layer.Stats().Expirations) }),
		counter("remote_hits_total", "Misses served by the shared tier", func() float64 { return float64(layer.Stats().RemoteHits) }),
		counter("remote_errors_total", "Failed shared tier operations", func() float64 { return float64(layer.Stats().RemoteErrors) }),
	}
	for _, collector := range collectors {
		if err := r.registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				r.logger.Warn("cache metric registration failed", "error", err)
			}
		}
	}
}

func (r *Router) metricsHandler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, scope string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "scope": scope}).Inc()
}
