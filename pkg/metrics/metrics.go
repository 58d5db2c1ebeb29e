package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	recordsSubsystem = "records_ingestion"

	jobsCreatedTotal     = "jobs_created_total"
	jobsCompletedTotal   = "jobs_completed_total"
	jobsFailedTotal      = "jobs_failed_total"
	chunksPublishedTotal = "chunks_published_total"
	rowsIngestedTotal    = "rows_ingested_total"
	rowsSkippedTotal     = "rows_redelivered_total"
	JobStatusCount       = "job_status_count"
	StaleJobsCount       = "stale_jobs_count"

	// Labels
	kindLabel           = "kind"
	statusLabel         = "status"
	classificationLabel = "classification"
)

var jobsCreatedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      jobsCreatedTotal,
		Help:      "number of ingestion jobs acknowledged",
	},
	[]string{kindLabel},
)

var jobsCompletedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      jobsCompletedTotal,
		Help:      "number of ingestion jobs that reached completed",
	},
	[]string{kindLabel},
)

var jobsFailedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      jobsFailedTotal,
		Help:      "number of ingestion jobs marked failed by classification",
	},
	[]string{kindLabel, classificationLabel},
)

var chunksPublishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      chunksPublishedTotal,
		Help:      "number of chunk messages published to the queue",
	},
	[]string{kindLabel},
)

var rowsIngestedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      rowsIngestedTotal,
		Help:      "number of rows written by the ingestion handlers",
	},
	[]string{kindLabel},
)

var rowsSkippedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: recordsSubsystem,
		Name:      rowsSkippedTotal,
		Help:      "number of rows skipped because they were already accounted for",
	},
	[]string{kindLabel},
)

var jobStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: recordsSubsystem,
		Name:      JobStatusCount,
		Help:      "number of jobs in each status",
	},
	[]string{statusLabel},
)

var staleJobsCountMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: recordsSubsystem,
		Name:      StaleJobsCount,
		Help:      "number of pending or processing jobs not updated within the stale threshold",
	},
)

func IncreaseJobsCreatedMetric(kind string) {
	jobsCreatedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseJobsCompletedMetric(kind string) {
	jobsCompletedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseJobsFailedMetric(kind, classification string) {
	jobsFailedTotalMetric.With(prometheus.Labels{kindLabel: kind, classificationLabel: classification}).Inc()
}

func IncreaseChunksPublishedMetric(kind string) {
	chunksPublishedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func AddRowsIngestedMetric(kind string, count int) {
	rowsIngestedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Add(float64(count))
}

func AddRowsSkippedMetric(kind string, count int) {
	rowsSkippedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Add(float64(count))
}

func UpdateJobStatusCountMetric(status string, count int64) {
	jobStatusCountMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func UpdateStaleJobsCountMetric(count int64) {
	staleJobsCountMetric.Set(float64(count))
}

type PrometheusMetricsHandler struct{}

func NewPrometheusMetricsHandler() *PrometheusMetricsHandler {
	return &PrometheusMetricsHandler{}
}

func (h *PrometheusMetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsCreatedTotalMetric)
	prometheus.MustRegister(jobsCompletedTotalMetric)
	prometheus.MustRegister(jobsFailedTotalMetric)
	prometheus.MustRegister(chunksPublishedTotalMetric)
	prometheus.MustRegister(rowsIngestedTotalMetric)
	prometheus.MustRegister(rowsSkippedTotalMetric)
	prometheus.MustRegister(jobStatusCountMetric)
	prometheus.MustRegister(staleJobsCountMetric)
}
