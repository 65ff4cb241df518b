package runner

import (
	"github.com/prometheus/client_golang/prometheus"

	pkgmetrics "github.com/rocm/jaxci/pkg/metrics"
)

const (
	kindLabelKey = "kind"

	outcomePassed  = "passed"
	outcomeFailed  = "failed"
	outcomeCrashed = "crashed"
	outcomeTimeout = "timeout"
	outcomeSkipped = "skipped"
)

var (
	metricModulesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "modules_total",
			Help:      "total number of test modules run",
		},
		[]string{kindLabelKey},
	)
	metricModuleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "module_outcomes_total",
			Help:      "total number of test modules by outcome",
		},
		[]string{kindLabelKey, pkgmetrics.OutcomeLabelKey},
	)
	metricCrashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "crashes_total",
			Help:      "total number of crashed tests detected from sentinel files",
		},
		[]string{pkgmetrics.ModuleLabelKey},
	)
	metricCrashRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "crash_retries_total",
			Help:      "total number of module reruns with crashed tests deselected",
		},
	)
	metricModuleDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "module_duration_seconds",
			Help:      "wall time of one pytest invocation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13), // 1s .. ~68m
		},
		[]string{kindLabelKey},
	)
	metricGPUsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jaxci",
			Subsystem: "runner",
			Name:      "gpus_in_use",
			Help:      "number of gpu tokens currently held by workers",
		},
	)
)

func init() {
	pkgmetrics.MustRegister(
		metricModulesTotal,
		metricModuleOutcomesTotal,
		metricCrashesTotal,
		metricCrashRetriesTotal,
		metricModuleDurationSeconds,
		metricGPUsInUse,
	)
}

func outcomeOf(exitCode int, crashed bool) string {
	switch {
	case crashed:
		return outcomeCrashed
	case exitCode == 0:
		return outcomePassed
	case exitCode == timeoutExitCode:
		return outcomeTimeout
	default:
		return outcomeFailed
	}
}
