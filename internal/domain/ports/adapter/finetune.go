package adapter

import (
	"context"
	"io"

	"llm-finetune/internal/domain/model"
)

// FinetuneProvider is the port for the provider's file and finetuning-job endpoints.
type FinetuneProvider interface {
	// UploadFile stores r remotely for finetuning under the given filename.
	UploadFile(ctx context.Context, filename string, r io.Reader) (model.RemoteFile, error)

	// CreateJob launches a job. It returns an error matching domain.ErrFileNotReady
	// when the training file is still being processed by the provider.
	CreateJob(ctx context.Context, req model.CreateJobRequest) (model.FinetuneJob, error)

	// RetrieveJob fetches a fresh snapshot of the job.
	RetrieveJob(ctx context.Context, jobID string) (model.FinetuneJob, error)
}
