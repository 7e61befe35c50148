package conv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convkit_conv_runs_total",
		Help: "Total number of completed adapter runs",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convkit_conv_run_duration_seconds",
		Help:    "Wall time of one adapter run, marshal-out included",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	reordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convkit_conv_reorders_total",
		Help: "Total number of layout reorders executed, by operand",
	}, []string{"operand"})

	marshaledBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convkit_conv_marshaled_bytes_total",
		Help: "Bytes copied between caller buffers and engine memory, by direction",
	}, []string{"direction"})
)
