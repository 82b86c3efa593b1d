package domain

import (
	"errors"
	"fmt"
)

var (
	// Finetuning workflow errors
	ErrDatasetValidation = errors.New("dataset validation failed")
	ErrFileNotReady      = errors.New("uploaded file is not ready for use")
	ErrMustFinetuneFirst = errors.New("must call Finetune() first")
	ErrModelNotReady     = errors.New("finetuned model not ready")
	ErrJobNotSucceeded   = errors.New("finetuning job did not succeed")
	ErrRetriesExhausted  = errors.New("retry attempts exhausted")

	// Client construction errors
	ErrConfiguration   = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("entity not found")
)

// ModelNotReadyError reports a job snapshot that carries no finetuned model id yet.
type ModelNotReadyError struct {
	JobID string
}

func (e *ModelNotReadyError) Error() string {
	return fmt.Sprintf("job %s does not have a finetuned model id ready yet", e.JobID)
}

func (e *ModelNotReadyError) Is(target error) bool { return target == ErrModelNotReady }

// JobNotSucceededError reports a job whose status is anything but succeeded.
type JobNotSucceededError struct {
	JobID  string
	Status string
}

func (e *JobNotSucceededError) Error() string {
	return fmt.Sprintf("job %s has status %s, cannot get model", e.JobID, e.Status)
}

func (e *JobNotSucceededError) Is(target error) bool { return target == ErrJobNotSucceeded }

// ConfigError names the setting that is missing or incorrect.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Setting == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Setting, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
