package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		filesUploadedTotal,
		jobsSubmittedTotal,
		submitRetriesTotal,
		jobRefreshTotal,
		jobStatusChanges,
	)
}

var (
	filesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_files_uploaded_total",
			Help: "Training file uploads by result.",
		},
		[]string{"result"}, // ok | error
	)

	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_jobs_submitted_total",
			Help: "Finetuning job submissions by base model and result.",
		},
		[]string{"base_model", "result"}, // ok | not_ready | error
	)

	submitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finetune_submit_retries_total",
			Help: "Waits taken because the training file was not ready.",
		},
	)

	jobRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_job_refresh_total",
			Help: "Job refreshes by observed status.",
		},
		[]string{"status"},
	)

	jobStatusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finetune_job_status_changes_total",
			Help: "Observed job status transitions by new status.",
		},
		[]string{"status"},
	)
)

func IncFileUpload(result string) {
	filesUploadedTotal.WithLabelValues(norm(result)).Inc()
}

func IncJobSubmit(baseModel, result string) {
	jobsSubmittedTotal.WithLabelValues(norm(baseModel), norm(result)).Inc()
}

func IncSubmitRetry() { submitRetriesTotal.Inc() }

func IncJobRefresh(status string) {
	jobRefreshTotal.WithLabelValues(norm(status)).Inc()
}

func IncJobStatusChange(status string) {
	jobStatusChanges.WithLabelValues(norm(status)).Inc()
}
