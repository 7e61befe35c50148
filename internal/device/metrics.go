package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memAllocatedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convkit_device_memory_allocated_bytes",
		Help: "Current bytes held by live memory objects",
	})

	memObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convkit_device_memory_objects",
		Help: "Current number of live memory objects",
	})

	planCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convkit_device_plan_cache_hits_total",
		Help: "Total number of convolution plans served from the cache",
	})

	planCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convkit_device_plan_cache_misses_total",
		Help: "Total number of convolution plans negotiated from scratch",
	})

	primitivesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convkit_device_primitives_executed_total",
		Help: "Total number of primitive executions, by primitive kind",
	}, []string{"kind"})

	primitiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "convkit_device_primitive_duration_seconds",
		Help:    "Time spent executing primitives, by primitive kind",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"kind"})
)
