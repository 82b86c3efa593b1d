// File: internal/usecase/finetune_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llm-finetune/internal/dataset"
	"llm-finetune/internal/domain"
	"llm-finetune/internal/domain/model"
	"llm-finetune/internal/domain/ports/adapter"
	"llm-finetune/internal/infra/logging"
)

// Compile-time check
var _ FinetuneUseCase = (*FinetuneEngine)(nil)

type FinetuneUseCase interface {
	Finetune(ctx context.Context) error
	CurrentJob(ctx context.Context) (model.FinetuneJob, error)
	Refresh(ctx context.Context) (model.FinetuneJob, error)
	FinetunedModel(ctx context.Context, opts adapter.ChatOptions) (adapter.ChatModel, error)
	Job() (model.FinetuneJob, bool)
}

// DatasetValidator checks a training file before it is uploaded.
type DatasetValidator interface {
	Validate(path string) (*dataset.Report, error)
}

// EventSource is anything that can dump recorded conversations as a training file.
type EventSource interface {
	Save(path string) error
}

type FinetuneConfig struct {
	BaseModel string
	DataPath  string
	Verbose   bool
	// StartJobID resumes observation of a job launched elsewhere.
	StartJobID string
	Suffix     string
	Retry      RetryPolicy
}

type FinetuneDeps struct {
	Provider  adapter.FinetuneProvider
	Validator DatasetValidator
	Models    adapter.ChatModelFactory
	Logger    *zerolog.Logger
	// Progress receives the human-readable checkpoints when Verbose is set.
	Progress io.Writer
}

// FinetuneEngine launches one finetuning job and follows it until a model is available.
type FinetuneEngine struct {
	baseModel string
	dataPath  string
	suffix    string
	verbose   bool
	retry     RetryPolicy

	provider  adapter.FinetuneProvider
	validator DatasetValidator
	models    adapter.ChatModelFactory
	log       *zerolog.Logger
	progress  io.Writer

	mu      sync.Mutex
	current *model.FinetuneJob
}

func NewFinetuneEngine(ctx context.Context, cfg FinetuneConfig, deps FinetuneDeps) (*FinetuneEngine, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("%w: finetune provider is required", domain.ErrInvalidArgument)
	}
	if cfg.StartJobID == "" && (cfg.BaseModel == "" || cfg.DataPath == "") {
		return nil, fmt.Errorf("%w: base model and data path are required", domain.ErrInvalidArgument)
	}
	e := &FinetuneEngine{
		baseModel: cfg.BaseModel,
		dataPath:  cfg.DataPath,
		suffix:    cfg.Suffix,
		verbose:   cfg.Verbose,
		retry:     cfg.Retry,
		provider:  deps.Provider,
		validator: deps.Validator,
		models:    deps.Models,
		log:       logging.Component(deps.Logger, "FinetuneEngine"),
		progress:  deps.Progress,
	}
	if e.progress == nil {
		e.progress = io.Discard
	}
	if e.validator == nil {
		e.validator = dataset.NewValidator(nil, deps.Logger)
	}
	// zero policy behaves as DefaultRetryPolicy
	hook := e.retry.OnRetry
	e.retry.OnRetry = func(attempt uint64, delay time.Duration, err error) {
		e.log.Warn().Err(err).Uint64("attempt", attempt).Dur("wait", delay).
			Msg("training file not ready, waiting before resubmitting")
		if hook != nil {
			hook(attempt, delay, err)
		}
	}

	if cfg.StartJobID != "" {
		job, err := e.provider.RetrieveJob(ctx, cfg.StartJobID)
		if err != nil {
			return nil, fmt.Errorf("retrieve job %s: %w", cfg.StartJobID, err)
		}
		e.setCurrent(job)
		e.log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("resumed finetuning job")
	}
	return e, nil
}

// NewFinetuneEngineFromRecorder saves the recorded events to cfg.DataPath
// and builds an engine over that file.
func NewFinetuneEngineFromRecorder(ctx context.Context, rec EventSource, cfg FinetuneConfig, deps FinetuneDeps) (*FinetuneEngine, error) {
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("%w: data path is required", domain.ErrInvalidArgument)
	}
	if err := rec.Save(cfg.DataPath); err != nil {
		return nil, fmt.Errorf("save recorded events: %w", err)
	}
	return NewFinetuneEngine(ctx, cfg, deps)
}

// Finetune validates and uploads the dataset, then submits the job.
// The held job is replaced only when every step succeeded.
func (e *FinetuneEngine) Finetune(ctx context.Context) error {
	defer logging.TraceDuration(e.log, "FinetuneEngine.Finetune")()

	rep, err := e.validator.Validate(e.dataPath)
	if err != nil {
		return fmt.Errorf("validate dataset: %w", err)
	}
	if e.verbose && rep != nil {
		fmt.Fprint(e.progress, rep.Summary())
	}

	f, err := os.Open(e.dataPath)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	file, err := e.provider.UploadFile(ctx, filepath.Base(e.dataPath), f)
	if err != nil {
		return fmt.Errorf("upload dataset: %w", err)
	}
	e.checkpoint(e.log.Info().Str("file_id", file.ID), "File uploaded...")

	req := model.CreateJobRequest{TrainingFileID: file.ID, BaseModel: e.baseModel, Suffix: e.suffix}
	var job model.FinetuneJob
	err = e.retry.Do(ctx, isFileNotReady, func(ctx context.Context) error {
		j, err := e.provider.CreateJob(ctx, req)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return fmt.Errorf("create finetuning job: %w", err)
	}
	e.setCurrent(job)

	e.checkpoint(e.log.Info().Str("job_id", job.ID).Str("file_id", file.ID),
		fmt.Sprintf("Training job %s launched. You will be emailed when it's complete.", file.ID))
	return nil
}

func isFileNotReady(err error) bool { return errors.Is(err, domain.ErrFileNotReady) }

// CurrentJob re-fetches the held job and keeps the fresh snapshot.
func (e *FinetuneEngine) CurrentJob(ctx context.Context) (model.FinetuneJob, error) {
	cur, ok := e.Job()
	if !ok {
		return model.FinetuneJob{}, domain.ErrMustFinetuneFirst
	}
	job, err := e.provider.RetrieveJob(ctx, cur.ID)
	if err != nil {
		return model.FinetuneJob{}, fmt.Errorf("retrieve job %s: %w", cur.ID, err)
	}
	e.setCurrent(job)
	e.log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job refreshed")
	return job, nil
}

// Refresh is CurrentJob under the name pollers use.
func (e *FinetuneEngine) Refresh(ctx context.Context) (model.FinetuneJob, error) {
	return e.CurrentJob(ctx)
}

// FinetunedModel returns a chat handle bound to the job's finetuned model.
// A missing model id is reported before the status check.
func (e *FinetuneEngine) FinetunedModel(ctx context.Context, opts adapter.ChatOptions) (adapter.ChatModel, error) {
	job, err := e.CurrentJob(ctx)
	if err != nil {
		return nil, err
	}
	if !job.HasModel() {
		return nil, &domain.ModelNotReadyError{JobID: job.ID}
	}
	if !job.Succeeded() {
		return nil, &domain.JobNotSucceededError{JobID: job.ID, Status: string(job.Status)}
	}
	if e.models == nil {
		return nil, fmt.Errorf("%w: no chat model factory configured", domain.ErrInvalidArgument)
	}
	return e.models.NewChatModel(job.FineTunedModel, opts)
}

// Job returns the held snapshot without contacting the provider.
func (e *FinetuneEngine) Job() (model.FinetuneJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return model.FinetuneJob{}, false
	}
	return *e.current, true
}

func (e *FinetuneEngine) setCurrent(job model.FinetuneJob) {
	e.mu.Lock()
	e.current = &job
	e.mu.Unlock()
}

func (e *FinetuneEngine) checkpoint(ev *zerolog.Event, msg string) {
	ev.Msg(msg)
	if e.verbose {
		fmt.Fprintln(e.progress, msg)
	}
}
