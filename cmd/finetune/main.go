// File: cmd/finetune/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llm-finetune/internal/config"
	"llm-finetune/internal/infra/logging"
	"llm-finetune/internal/infra/metrics"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = ""
)

// app carries what every subcommand needs once the root has parsed flags.
type app struct {
	cfgPath string
	dev     bool
	verbose bool

	cfg *config.Config
	log *zerolog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "finetune",
		Short:         "Validate datasets, launch finetuning jobs and chat with the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&a.dev, "dev", false, "developer mode (console logs, unredacted secrets)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "echo progress checkpoints")

	root.AddCommand(
		newValidateCommand(a),
		newLaunchCommand(a),
		newStatusCommand(a),
		newWatchCommand(a),
		newChatCommand(a),
		newAzureChatCommand(a),
		newDistilCommand(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.cfgPath, a.dev)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if a.verbose {
		cfg.Finetune.Verbose = true
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx := logging.WithTraceID(cmd.Context(), uuid.NewString())
	cmd.SetContext(ctx)

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	logging.With(ctx, a.log).Debug().
		Str("config", a.cfgPath).
		Str("openai_key", logging.Redact(cfg.OpenAI.APIKey, cfg.Runtime.Dev)).
		Str("version", version).
		Msg("config loaded")
	return nil
}

func printErrln(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString(format, args...))
}
