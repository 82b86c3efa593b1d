//go:build !integration

package model

import (
	"errors"
	"testing"

	"llm-finetune/internal/domain"
)

// --- FinetuneJob Model Tests ---

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobStatusValidatingFiles: false,
		JobStatusQueued:          false,
		JobStatusRunning:         false,
		JobStatusSucceeded:       true,
		JobStatusFailed:          true,
		JobStatusCancelled:       true,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestFinetuneJobHelpers(t *testing.T) {
	t.Run("should report no model while the id is empty", func(t *testing.T) {
		j := FinetuneJob{ID: "ftjob-1", Status: JobStatusSucceeded}
		if j.HasModel() {
			t.Error("expected HasModel to be false")
		}
		if !j.Succeeded() {
			t.Error("expected Succeeded to be true")
		}
	})

	t.Run("should keep status and model independent", func(t *testing.T) {
		j := FinetuneJob{ID: "ftjob-1", Status: JobStatusFailed, FineTunedModel: "ft:abc"}
		if !j.HasModel() {
			t.Error("expected HasModel to be true")
		}
		if j.Succeeded() {
			t.Error("expected Succeeded to be false")
		}
	})
}

// --- Error Tests ---

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &domain.ModelNotReadyError{JobID: "ftjob-1"}
	if !errors.Is(err, domain.ErrModelNotReady) {
		t.Fatal("expected ModelNotReadyError to match ErrModelNotReady")
	}
	if err.Error() != "job ftjob-1 does not have a finetuned model id ready yet" {
		t.Errorf("unexpected message: %s", err)
	}

	err = &domain.JobNotSucceededError{JobID: "ftjob-1", Status: string(JobStatusRunning)}
	if !errors.Is(err, domain.ErrJobNotSucceeded) || errors.Is(err, domain.ErrModelNotReady) {
		t.Fatal("JobNotSucceededError matched the wrong sentinel")
	}

	err = &domain.ConfigError{Setting: "engine", Reason: "missing"}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatal("expected ConfigError to match ErrConfiguration")
	}
	if err.Error() != "engine: missing" {
		t.Errorf("unexpected message: %s", err)
	}
}
