package sqlite

import (
	"github.com/prometheus/client_golang/prometheus"

	pkgmetrics "github.com/rocm/jaxci/pkg/metrics"
)

var (
	metricInsertUpdateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "insert_update",
			Name:      "total",
			Help:      "total number of inserts and updates",
		},
	)
	metricInsertUpdateSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "insert_update",
			Name:      "seconds_total",
			Help:      "total number of seconds spent on inserts and updates",
		},
	)

	metricSelectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "select",
			Name:      "total",
			Help:      "total number of selects",
		},
	)
	metricSelectSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "select",
			Name:      "seconds_total",
			Help:      "total number of seconds spent on selects",
		},
	)
)

func init() {
	pkgmetrics.MustRegister(
		metricInsertUpdateTotal,
		metricInsertUpdateSecondsTotal,
		metricSelectTotal,
		metricSelectSecondsTotal,
	)
}

func RecordInsertUpdate(tookSeconds float64) {
	metricInsertUpdateTotal.Inc()
	metricInsertUpdateSecondsTotal.Add(tookSeconds)
}

func RecordSelect(tookSeconds float64) {
	metricSelectTotal.Inc()
	metricSelectSecondsTotal.Add(tookSeconds)
}
