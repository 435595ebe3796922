// Package cli exposes the pipeline as a cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"OpportunityPipeline/internal/app"
	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/logging"
	"OpportunityPipeline/internal/usecase"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// Exit codes beyond the generic 1.
const (
	ExitDraftFailures = 2
	ExitRunInProgress = 3
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, usecase.ErrDraftFailures):
		return ExitDraftFailures
	case errors.Is(err, domain.ErrRunInProgress):
		return ExitRunInProgress
	default:
		return 1
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadPath(o.configPath)
		if err != nil {
			return cfg, err
		}
	} else {
		cfg = config.Load()
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level)
}

// openApp loads the config and opens the persisted state. Callers close it.
func (o *rootOptions) openApp(ctx context.Context) (*app.Application, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	application, err := app.New(ctx, cfg, o.logger(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialise: %w", err)
	}
	return application, nil
}

// withApp runs fn against an opened application and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(*app.Application) error) error {
	application, err := o.openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close state: %v\n", cerr)
		}
	}()
	return fn(application)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "opportunity-pipeline",
		Short: "Score, route and draft replies to inbound opportunities",
		Long: `opportunity-pipeline ingests signals dropped into its inbox, scores them,
routes each one to a local or cloud generation backend, stores the draft
for human review and learns from the verdicts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newStatusCommand(opts),
		newListCommand(opts),
		newVerdictCommand(opts),
		newRedraftCommand(opts),
		newClassifyCommand(opts),
		newScoreCommand(opts),
		newFeedbackCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opportunity-pipeline %s\ncommit: %s\n", appVersion, appCommit)
		},
	}
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
