package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain/model"
	"llm-finetune/internal/infra/logging"
	"llm-finetune/internal/infra/metrics"
)

// JobRefresher returns a fresh snapshot of the watched job.
type JobRefresher interface {
	Refresh(ctx context.Context) (model.FinetuneJob, error)
}

// JobWatcher polls a finetuning job until it reaches a terminal status.
type JobWatcher struct {
	interval time.Duration
	jobs     JobRefresher
	log      *zerolog.Logger

	// OnChange is called with every snapshot whose status differs from the previous one.
	OnChange func(model.FinetuneJob)
	// MaxFailures stops the watcher after that many refresh errors in a row; 0 never stops.
	MaxFailures int
}

func NewJobWatcher(interval time.Duration, jobs JobRefresher, logger *zerolog.Logger) *JobWatcher {
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	return &JobWatcher{
		interval: interval,
		jobs:     jobs,
		log:      logging.Component(logger, "JobWatcher"),
	}
}

// Run refreshes once on start, then on every tick. It returns the terminal
// snapshot, or the last one seen alongside the error that stopped it.
func (w *JobWatcher) Run(ctx context.Context) (model.FinetuneJob, error) {
	w.log.Info().Dur("interval", w.interval).Msg("Starting job watcher")

	var last model.FinetuneJob
	failures := 0
	check := func() (bool, error) {
		job, err := w.jobs.Refresh(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true, err
			}
			failures++
			w.log.Error().Err(err).Int("failures", failures).Msg("job refresh failed")
			if w.MaxFailures > 0 && failures >= w.MaxFailures {
				return true, err
			}
			return false, nil
		}
		failures = 0
		metrics.IncJobRefresh(string(job.Status))
		if job.Status != last.Status {
			metrics.IncJobStatusChange(string(job.Status))
			w.log.Info().Str("job_id", job.ID).Str("from", string(last.Status)).
				Str("to", string(job.Status)).Msg("job status changed")
			if w.OnChange != nil {
				w.OnChange(job)
			}
		}
		last = job
		return job.Status.IsTerminal(), nil
	}

	if done, err := check(); done {
		return last, err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping job watcher")
			return last, ctx.Err()
		case <-ticker.C:
			if done, err := check(); done {
				if err == nil {
					w.log.Info().Str("job_id", last.ID).Str("status", string(last.Status)).Msg("job finished")
				}
				return last, err
			}
		}
	}
}
