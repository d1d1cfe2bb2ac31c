package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const MetricsPrefix = "ingestbench_"

// Error kinds used as the "kind" label of the error counter
const (
	KindSource      = "source"
	KindUnavailable = "sink_unavailable"
	KindRejected    = "write_rejected"
	KindOther       = "other"
)

var batchApplyTimeHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "batch_apply_time",
		Help:    "Time taken in milliseconds to write one batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"strategy"},
)

var avRowWriteTimeHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricsPrefix + "average_row_write_time",
		Help:    "Average time taken in milliseconds to write one row",
		Buckets: []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 100},
	},
	[]string{"strategy"},
)

var rowsWrittenCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "rows_written",
		Help: "Number of rows written to the sink",
	},
	[]string{"strategy"},
)

var errorCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricsPrefix + "errors",
		Help: "Number of strategy runs that ended in an error",
	},
	[]string{"strategy", "kind"},
)

var elapsedGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: MetricsPrefix + "strategy_elapsed_seconds",
		Help: "Wall clock time of the last complete run of a strategy",
	},
	[]string{"strategy"},
)

type Metrics struct{}

var m = &Metrics{}

func Get() *Metrics {
	return m
}

func (m *Metrics) RecordBatchApply(strategy string, numRows int, duration time.Duration) {
	ms := float64(duration.Microseconds()) / 1000
	batchApplyTimeHist.WithLabelValues(strategy).Observe(ms)
	if numRows > 0 {
		avRowWriteTimeHist.WithLabelValues(strategy).Observe(ms / float64(numRows))
	}
	rowsWrittenCounter.WithLabelValues(strategy).Add(float64(numRows))
}

func (m *Metrics) RecordError(strategy string, kind string) {
	errorCounter.WithLabelValues(strategy, kind).Inc()
	log.Debugf("recorded %s error for strategy %s", kind, strategy)
}

func (m *Metrics) RecordElapsed(strategy string, elapsed time.Duration) {
	elapsedGauge.WithLabelValues(strategy).Set(elapsed.Seconds())
}
