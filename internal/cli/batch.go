package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"OpportunityPipeline/internal/app"
	"OpportunityPipeline/internal/usecase"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one batch and exit",
		Long: `Run one batch: pull the inbox, score and store new signals, draft the
pending queue and send the daily digest. Exits non-zero when any draft
exhausted its backends or another batch holds the run lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.Application) error {
				report, err := a.Run(cmd.Context())
				if report.RunID != "" {
					printReport(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run batches on the configured interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.withApp(cmd, func(a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func printReport(w io.Writer, r usecase.Report) {
	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  ingested:  %d pulled, %d rejected, %d new, %d duplicate\n", r.Pulled, r.Rejected, r.Inserted, r.Duplicates)
	fmt.Fprintf(w, "  drafting:  %d drafted (%d escalated), %d ignored, %d failed, %d cancelled\n",
		r.Drafted, r.Escalated, r.Ignored, r.Failed, r.Cancelled)
	if r.Digest != "" {
		fmt.Fprintf(w, "  digest:    %s\n", r.Digest)
	}
	for _, d := range r.Drafts {
		if d.Outcome == usecase.OutcomeIgnored {
			continue
		}
		backend := d.Backend
		if backend == "" {
			backend = "-"
		}
		fmt.Fprintf(w, "  %-10s %s  %-12s %s\n", d.Outcome, d.OpportunityID, backend, d.Title)
	}
}
