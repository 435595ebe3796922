package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"OpportunityPipeline/internal/app"
	"OpportunityPipeline/internal/domain"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var decisions int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show opportunity counts per status and recent decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.Application) error {
				report, err := a.Pipeline.Status(cmd.Context(), decisions)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Opportunities: %d\n", report.Counts.Total())
				for _, s := range domain.Statuses {
					fmt.Fprintf(w, "  %-9s %d\n", s, report.Counts[s])
				}
				if len(report.Decisions) > 0 {
					fmt.Fprintln(w, "Recent decisions:")
					for _, d := range report.Decisions {
						printDecision(w, d)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&decisions, "decisions", "n", 10, "number of recent decisions to show")
	return cmd
}

func printDecision(w io.Writer, d domain.Decision) {
	backend := d.ChosenBackend
	if backend == "" {
		backend = strings.Join(d.Backends, ",")
	}
	fmt.Fprintf(w, "  %s  %s  %-12s %-8s %-9s %s (%s)\n",
		d.DecidedAt.Local().Format("2006-01-02 15:04"), d.OpportunityID, d.Action, d.Tier, d.Outcome, backend, d.Reasoning)
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		limit  int
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List opportunities in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.Application) error {
				opps, err := a.Pipeline.List(cmd.Context(), domain.Status(status), limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(opps) == 0 {
					fmt.Fprintf(w, "No %s opportunities.\n", status)
					return nil
				}
				for _, o := range opps {
					fmt.Fprintf(w, "%s  %5.1f  %-10s %-10s %s\n", o.ID, o.Score, o.Source, o.Kind, o.Title)
					if full && o.HasDraft() {
						fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(o.Draft, "\n", "\n    "))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.StatusDrafted), "status to list (pending, drafted, approved, rejected)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of rows")
	cmd.Flags().BoolVar(&full, "full", false, "print the draft text")
	return cmd
}

func newVerdictCommand(opts *rootOptions) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "verdict <id> <approved|rejected|edited>",
		Short: "Record a human verdict on a draft",
		Long: `Record a human verdict on a drafted opportunity. approved and edited move
it to approved, rejected moves it to rejected. edited requires --text with
the reply that was actually sent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict := domain.Verdict(strings.ToLower(args[1]))
			var finalText *string
			if cmd.Flags().Changed("text") {
				finalText = &text
			}
			return opts.withApp(cmd, func(a *app.Application) error {
				rec, err := a.Pipeline.ApplyVerdict(cmd.Context(), args[0], verdict, finalText)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s (%s)\n", rec.Verdict, rec.OpportunityID, rec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "final text for an edited verdict")
	return cmd
}

func newRedraftCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redraft <id>",
		Short: "Send a drafted opportunity back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.Application) error {
				if err := a.Pipeline.Redraft(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is pending again\n", args[0])
				return nil
			})
		},
	}
}
