package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unpacker_tasks_total",
		Help: "Extraction tasks by outcome",
	}, []string{"outcome"})

	extractDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unpacker_extract_duration_seconds",
		Help:    "Time spent extracting an archive",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"kind"})

	quotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unpacker_quota_denials_total",
		Help: "Quota admissions denied, by reason",
	}, []string{"reason"})

	mirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unpacker_durable_mirror_failures_total",
		Help: "Durable backend operations that failed and were swallowed",
	}, []string{"op"})

	reapedPaths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unpacker_reaped_paths_total",
		Help: "Temp paths reaped by the cleanup sweeper",
	})

	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unpacker_sweep_remove_errors_total",
		Help: "Reaped paths that could not be removed",
	})

	registeredPaths = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unpacker_registered_paths",
		Help: "Temp paths currently tracked in memory",
	})
)
