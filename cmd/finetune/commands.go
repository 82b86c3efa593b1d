package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"llm-finetune/internal/dataset"
	"llm-finetune/internal/domain/model"
	"llm-finetune/internal/domain/ports/adapter"
	"llm-finetune/internal/infra/adapters/ai"
	httpapi "llm-finetune/internal/infra/http"
	"llm-finetune/internal/infra/logging"
	"llm-finetune/internal/infra/metrics"
	"llm-finetune/internal/infra/sched"
	"llm-finetune/internal/usecase"
)

// engine builds a FinetuneEngine from the loaded config.
// A non-empty startJobID resumes that job instead of expecting a dataset.
func (a *app) engine(ctx context.Context, startJobID string) (*usecase.FinetuneEngine, error) {
	a.cfg.Finetune.StartJobID = startJobID
	fc, deps, err := a.wiring(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewFinetuneEngine(ctx, fc, deps)
}

// wiring validates the finetune section and builds the provider, validator
// and chat factory every engine shares.
func (a *app) wiring(ctx context.Context) (usecase.FinetuneConfig, usecase.FinetuneDeps, error) {
	if err := a.cfg.ValidateFinetune(); err != nil {
		return usecase.FinetuneConfig{}, usecase.FinetuneDeps{}, err
	}
	log := logging.With(ctx, a.log)

	provider, err := ai.NewOpenAIFinetuneProvider(a.cfg.OpenAI, log)
	if err != nil {
		return usecase.FinetuneConfig{}, usecase.FinetuneDeps{}, err
	}
	models, err := ai.NewOpenAIFactory(a.cfg.OpenAI, log)
	if err != nil {
		return usecase.FinetuneConfig{}, usecase.FinetuneDeps{}, err
	}

	retry := usecase.RetryPolicyFromConfig(a.cfg.Finetune.Retry)
	retry.OnRetry = func(uint64, time.Duration, error) { metrics.IncSubmitRetry() }

	fc := a.cfg.Finetune
	cfg := usecase.FinetuneConfig{
		BaseModel:  fc.BaseModel,
		DataPath:   fc.DataPath,
		Verbose:    fc.Verbose,
		StartJobID: fc.StartJobID,
		Suffix:     fc.Suffix,
		Retry:      retry,
	}
	deps := usecase.FinetuneDeps{
		Provider:  provider,
		Validator: dataset.NewValidator(nil, log),
		Models:    models,
		Logger:    log,
		Progress:  os.Stdout,
	}
	return cfg, deps, nil
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a chat-format JSONL training file and estimate its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := dataset.NewValidator(nil, a.log).Validate(args[0])
			var verr *dataset.ValidationError
			if errors.As(err, &verr) {
				color.Red("found format errors in %s", verr.Path)
				kinds := make([]string, 0, len(verr.Counts))
				for k := range verr.Counts {
					kinds = append(kinds, k)
				}
				sort.Strings(kinds)
				for _, k := range kinds {
					fmt.Printf("  %-36s %d (lines %v)\n", k, verr.Counts[k], verr.Lines[k])
				}
				return err
			}
			if err != nil {
				return err
			}
			color.Green("no format errors found")
			fmt.Print(rep.Summary())
			return nil
		},
	}
}

func newLaunchCommand(a *app) *cobra.Command {
	var baseModel, data, suffix string
	var watch bool
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Validate, upload and submit a finetuning job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if baseModel != "" {
				a.cfg.Finetune.BaseModel = baseModel
			}
			if data != "" {
				a.cfg.Finetune.DataPath = data
			}
			if suffix != "" {
				a.cfg.Finetune.Suffix = suffix
			}
			eng, err := a.engine(ctx, "")
			if err != nil {
				return err
			}
			if err := eng.Finetune(ctx); err != nil {
				return err
			}
			job, _ := eng.Job()
			printJob(job)
			if !watch {
				return nil
			}
			return a.watch(logging.WithJobID(ctx, job.ID), eng, 0)
		},
	}
	cmd.Flags().StringVarP(&baseModel, "base-model", "m", "", "model to finetune (overrides finetune.base_model)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "training file (overrides finetune.data_path)")
	cmd.Flags().StringVar(&suffix, "suffix", "", "suffix for the finetuned model name")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll the job until it finishes")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current state of a finetuning job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			job, _ := eng.Job()
			printJob(job)
			return nil
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a finetuning job until it succeeds, fails or is cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithJobID(cmd.Context(), args[0])
			eng, err := a.engine(ctx, args[0])
			if err != nil {
				return err
			}
			return a.watch(ctx, eng, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (overrides finetune.poll_interval)")
	return cmd
}

func (a *app) watch(ctx context.Context, eng *usecase.FinetuneEngine, interval time.Duration) error {
	log := logging.With(ctx, a.log)
	if interval <= 0 {
		interval = a.cfg.Finetune.PollInterval
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := httpapi.NewServer(addr, eng, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	w := sched.NewJobWatcher(interval, eng, log)
	w.MaxFailures = 10
	w.OnChange = func(j model.FinetuneJob) {
		fmt.Printf("%s  %s  %s\n", time.Now().Format(time.TimeOnly), j.ID, statusColor(j.Status))
	}
	job, err := w.Run(ctx)
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func chatFlags(cmd *cobra.Command, opts *adapter.ChatOptions, system *string) func() {
	var temperature float64
	var maxTokens int64
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().Int64Var(&maxTokens, "max-tokens", 0, "completion token limit")
	cmd.Flags().StringVar(system, "system", "", "system prompt")
	return func() {
		if cmd.Flags().Changed("temperature") {
			opts.Temperature = &temperature
		}
		if cmd.Flags().Changed("max-tokens") {
			opts.MaxTokens = &maxTokens
		}
	}
}

func conversation(system, prompt string) []adapter.Message {
	var msgs []adapter.Message
	if system != "" {
		msgs = append(msgs, adapter.Message{Role: "system", Content: system})
	}
	return append(msgs, adapter.Message{Role: "user", Content: prompt})
}

func newChatCommand(a *app) *cobra.Command {
	var opts adapter.ChatOptions
	var system string
	cmd := &cobra.Command{
		Use:   "chat <job-id> <prompt>",
		Short: "Send a prompt to the model produced by a finetuning job",
		Args:  cobra.MinimumNArgs(2),
	}
	apply := chatFlags(cmd, &opts, &system)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		apply()
		ctx := logging.WithJobID(cmd.Context(), args[0])
		eng, err := a.engine(ctx, args[0])
		if err != nil {
			return err
		}
		m, err := eng.FinetunedModel(ctx, opts)
		if err != nil {
			return err
		}
		reply, err := m.Chat(ctx, conversation(system, strings.Join(args[1:], " ")))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}
	return cmd
}

func newAzureChatCommand(a *app) *cobra.Command {
	var opts adapter.ChatOptions
	var system, engine string
	cmd := &cobra.Command{
		Use:   "azure-chat <prompt>",
		Short: "Send a prompt to an Azure deployment",
		Args:  cobra.MinimumNArgs(1),
	}
	apply := chatFlags(cmd, &opts, &system)
	cmd.Flags().StringVar(&engine, "engine", "", "deployment name (overrides azure.engine)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		apply()
		if engine != "" {
			a.cfg.Azure.Engine = engine
		}
		c, err := ai.NewAzureChat(a.cfg.Azure, opts, nil, a.log)
		if err != nil {
			return err
		}
		reply, err := c.Chat(cmd.Context(), conversation(system, strings.Join(args, " ")))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}
	return cmd
}

func newDistilCommand(a *app) *cobra.Command {
	var sourceModel, prompts, out, system string
	var launch bool
	cmd := &cobra.Command{
		Use:   "distil",
		Short: "Answer prompts with a strong model and save the conversations as a training file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if prompts == "" || out == "" {
				return errors.New("--prompts and --out are required")
			}
			factory, err := ai.NewOpenAIFactory(a.cfg.OpenAI, a.log)
			if err != nil {
				return err
			}
			m, err := factory.NewChatModel(sourceModel, adapter.ChatOptions{})
			if err != nil {
				return err
			}
			rec := dataset.NewRecorder(m)

			f, err := os.Open(prompts)
			if err != nil {
				return err
			}
			defer f.Close()
			sc := bufio.NewScanner(f)
			n := 0
			for sc.Scan() {
				p := strings.TrimSpace(sc.Text())
				if p == "" {
					continue
				}
				if _, err := rec.Chat(ctx, conversation(system, p)); err != nil {
					printErrln("skipping prompt %d: %v", n+1, err)
					continue
				}
				n++
			}
			if err := sc.Err(); err != nil {
				return err
			}
			color.Green("recorded %d conversations with %s", n, rec.Model())

			if !launch {
				return rec.Save(out)
			}
			a.cfg.Finetune.DataPath = out
			a.cfg.Finetune.StartJobID = ""
			fc, deps, err := a.wiring(ctx)
			if err != nil {
				return err
			}
			eng, err := usecase.NewFinetuneEngineFromRecorder(ctx, rec, fc, deps)
			if err != nil {
				return err
			}
			if err := eng.Finetune(ctx); err != nil {
				return err
			}
			job, _ := eng.Job()
			printJob(job)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceModel, "model", "gpt-4", "model whose answers are recorded")
	cmd.Flags().StringVar(&prompts, "prompts", "", "file with one prompt per line")
	cmd.Flags().StringVarP(&out, "out", "o", "", "JSONL file to write")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for every conversation")
	cmd.Flags().BoolVar(&launch, "launch", false, "launch a finetuning job on the recorded data")
	return cmd
}

func statusColor(s model.JobStatus) string {
	switch s {
	case model.JobStatusSucceeded:
		return color.GreenString(string(s))
	case model.JobStatusFailed, model.JobStatusCancelled:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func orNA(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}

func printJob(job model.FinetuneJob) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Job ID:     %s\n", job.ID)
	fmt.Printf("Model:      %s\n", job.BaseModel)
	fmt.Printf("Status:     %s\n", statusColor(job.Status))
	fmt.Printf("File:       %s\n", job.TrainingFile)
	if !job.CreatedAt.IsZero() {
		fmt.Printf("Created:    %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Printf("Finished:   %s\n", job.FinishedAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("Fine-tuned: %s\n", orNA(job.FineTunedModel))
	if job.Error != nil {
		color.Red("Error:      %s (%s)", job.Error.Message, job.Error.Code)
	}
	fmt.Println(strings.Repeat("=", 60))
}
