package model

import "time"

type JobStatus string

const (
	JobStatusValidatingFiles JobStatus = "validating_files"
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusSucceeded       JobStatus = "succeeded"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCancelled       JobStatus = "cancelled"
)

// IsTerminal reports whether the provider will not move the job any further.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// JobError carries the provider's failure details for failed jobs.
type JobError struct {
	Code    string
	Message string
	Param   string
}

// FinetuneJob is a read-only snapshot of a remote finetuning job.
// The remote service owns all transitions; a newer snapshot is obtained by
// re-fetching the job, never by mutating this value.
type FinetuneJob struct {
	ID             string
	Status         JobStatus
	BaseModel      string
	FineTunedModel string // empty until the provider publishes the model
	TrainingFile   string
	TrainedTokens  int64
	CreatedAt      time.Time
	FinishedAt     *time.Time
	Error          *JobError
}

func (j FinetuneJob) Succeeded() bool { return j.Status == JobStatusSucceeded }

func (j FinetuneJob) HasModel() bool { return j.FineTunedModel != "" }

// CreateJobRequest is what the orchestrator submits to the provider.
type CreateJobRequest struct {
	TrainingFileID string
	BaseModel      string
	Suffix         string
}
