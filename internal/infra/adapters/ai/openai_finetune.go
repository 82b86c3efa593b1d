package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain"
	"llm-finetune/internal/domain/model"
	"llm-finetune/internal/domain/ports/adapter"
	"llm-finetune/internal/infra/logging"
	"llm-finetune/internal/infra/metrics"
)

var _ adapter.FinetuneProvider = (*OpenAIFinetuneProvider)(nil)

// OpenAIFinetuneProvider talks to the files and fine_tuning/jobs endpoints.
type OpenAIFinetuneProvider struct {
	client openai.Client
	log    *zerolog.Logger
}

func NewOpenAIFinetuneProvider(cfg config.OpenAIConfig, logger *zerolog.Logger, extra ...option.RequestOption) (*OpenAIFinetuneProvider, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ConfigError{Setting: "openai.api_key", Reason: "must be set"}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.MaxRetries != nil {
		o, err := retriesOption("openai.max_retries", *cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	opts = append(opts, extra...)
	return &OpenAIFinetuneProvider{
		client: openai.NewClient(opts...),
		log:    logging.Component(logger, "OpenAIFinetuneProvider"),
	}, nil
}

func (p *OpenAIFinetuneProvider) UploadFile(ctx context.Context, filename string, r io.Reader) (model.RemoteFile, error) {
	f, err := p.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(r, filename, "application/jsonl"),
		Purpose: openai.FilePurposeFineTune,
	})
	if err != nil {
		metrics.IncFileUpload("error")
		return model.RemoteFile{}, fmt.Errorf("failed to upload file: %w", err)
	}
	if f == nil || f.ID == "" {
		metrics.IncFileUpload("error")
		return model.RemoteFile{}, errors.New("uploaded file is empty")
	}
	metrics.IncFileUpload("ok")
	p.log.Debug().Str("file_id", f.ID).Int64("bytes", f.Bytes).Msg("file uploaded")
	return model.RemoteFile{
		ID:        f.ID,
		Filename:  f.Filename,
		Purpose:   string(f.Purpose),
		Bytes:     f.Bytes,
		CreatedAt: unixTime(f.CreatedAt),
	}, nil
}

func (p *OpenAIFinetuneProvider) CreateJob(ctx context.Context, req model.CreateJobRequest) (model.FinetuneJob, error) {
	params := openai.FineTuningJobNewParams{
		Model:        openai.FineTuningJobNewParamsModel(req.BaseModel),
		TrainingFile: req.TrainingFileID,
	}
	if req.Suffix != "" {
		params.Suffix = openai.String(req.Suffix)
	}
	job, err := p.client.FineTuning.Jobs.New(ctx, params)
	if err != nil {
		if isFileNotReady(err) {
			metrics.IncJobSubmit(req.BaseModel, "not_ready")
			return model.FinetuneJob{}, fmt.Errorf("%w: %w", domain.ErrFileNotReady, err)
		}
		metrics.IncJobSubmit(req.BaseModel, "error")
		return model.FinetuneJob{}, fmt.Errorf("failed to create fine-tuning job: %w", err)
	}
	metrics.IncJobSubmit(req.BaseModel, "ok")
	return convertJob(job), nil
}

func (p *OpenAIFinetuneProvider) RetrieveJob(ctx context.Context, jobID string) (model.FinetuneJob, error) {
	job, err := p.client.FineTuning.Jobs.Get(ctx, jobID)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return model.FinetuneJob{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return model.FinetuneJob{}, fmt.Errorf("failed to retrieve fine-tuning job: %w", err)
	}
	return convertJob(job), nil
}

// fileNotReadyCodes are error codes the provider may attach while an upload is being processed.
var fileNotReadyCodes = map[string]bool{"file_not_ready": true}

// isFileNotReady recognises the invalid-request error returned while an
// uploaded training file is still being processed. Other problems with the
// training file (purpose, size, unknown id) are not retryable.
func isFileNotReady(err error) bool {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Type != "invalid_request_error" {
		return false
	}
	if fileNotReadyCodes[apiErr.Code] {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "not ready") || strings.Contains(msg, "still being processed")
}

func convertJob(j *openai.FineTuningJob) model.FinetuneJob {
	out := model.FinetuneJob{
		ID:             j.ID,
		Status:         model.JobStatus(j.Status),
		BaseModel:      j.Model,
		FineTunedModel: j.FineTunedModel,
		TrainingFile:   j.TrainingFile,
		TrainedTokens:  j.TrainedTokens,
		CreatedAt:      unixTime(j.CreatedAt),
	}
	if j.FinishedAt > 0 {
		t := unixTime(j.FinishedAt)
		out.FinishedAt = &t
	}
	if j.Error.Code != "" || j.Error.Message != "" {
		out.Error = &model.JobError{Code: j.Error.Code, Message: j.Error.Message, Param: j.Error.Param}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
