package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "inkwell"

	// Labels
	jobTypeLabel    = "type"
	jobOutcomeLabel = "outcome"
	stageLabel      = "stage"
	statusLabel     = "status"
)

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "number of jobs that reached an outcome, by type and outcome",
	},
	[]string{jobTypeLabel, jobOutcomeLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "wall-clock time between claim and completion",
		Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800},
	},
	[]string{jobTypeLabel},
)

var jobStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs",
		Help:      "number of jobs in each status",
	},
	[]string{statusLabel},
)

var chaptersWrittenMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "chapters_written_total",
		Help:      "number of chapters persisted by the orchestrator",
	},
)

var chaptersRewrittenMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "chapters_rewritten_total",
		Help:      "number of chapters that went through a rewrite pass",
	},
)

var chapterQualityMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "chapter_quality_score",
		Help:      "final quality score of persisted chapters",
		Buckets:   prometheus.LinearBuckets(10, 10, 10),
	},
)

var writerErrorsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "task_errors_total",
		Help:      "number of write tasks that failed, by stage",
	},
	[]string{stageLabel},
)

func IncreaseJobsTotal(jobType, outcome string) {
	jobsTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType, jobOutcomeLabel: outcome}).Inc()
}

func ObserveJobDuration(jobType string, seconds float64) {
	jobDurationMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Observe(seconds)
}

func UpdateJobStatusCount(status string, count int) {
	jobStatusCountMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func ObserveChapterWritten(quality float64, rewritten bool) {
	chaptersWrittenMetric.Inc()
	chapterQualityMetric.Observe(quality)
	if rewritten {
		chaptersRewrittenMetric.Inc()
	}
}

func IncreaseWriterErrors(stage string) {
	writerErrorsMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(jobStatusCountMetric)
	prometheus.MustRegister(chaptersWrittenMetric)
	prometheus.MustRegister(chaptersRewrittenMetric)
	prometheus.MustRegister(chapterQualityMetric)
	prometheus.MustRegister(writerErrorsMetric)
}
