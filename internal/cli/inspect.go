package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"OpportunityPipeline/internal/app"
	"OpportunityPipeline/internal/scoring"
)

func newClassifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the tier and backend chain for a task description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cls, err := app.BuildClassifier(cfg.Classifier)
			if err != nil {
				return err
			}

			c := cls.Classify(strings.Join(args, " "))
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tier:       %s\n", c.Tier)
			fmt.Fprintf(w, "backends:   %s\n", strings.Join(c.Backends, " -> "))
			fmt.Fprintf(w, "complexity: %d\n", c.ComplexityScore)
			fmt.Fprintf(w, "estimate:   %.1fh\n", c.EstimatedHours)
			if len(c.MatchedIndicators) > 0 {
				fmt.Fprintf(w, "indicators: %s\n", strings.Join(c.MatchedIndicators, ", "))
			}
			return nil
		},
	}
}

func newScoreCommand(opts *rootOptions) *cobra.Command {
	var source, kind string
	cmd := &cobra.Command{
		Use:   "score <text>",
		Short: "Score a piece of text with the configured rule table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			scorer, err := app.BuildScorer(cfg.Scoring)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "score: %.2f\n", scorer.Score(text, scoring.Metadata{Source: source, Kind: kind}))

			breakdown := scorer.Breakdown(text)
			names := make([]string, 0, len(breakdown))
			for name := range breakdown {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %-10s %.2f\n", name, breakdown[name])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "signal source, for source weighting")
	cmd.Flags().StringVar(&kind, "kind", "", "signal kind")
	return cmd
}

func newFeedbackCommand(opts *rootOptions) *cobra.Command {
	parent := &cobra.Command{
		Use:   "feedback",
		Short: "Work with the verdict log",
	}

	var (
		since string
		out   string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Write verdicts as JSON lines for offline retraining",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app.Application) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("create %s: %w", out, err)
					}
					defer f.Close()
					w = f
				}
				n, err := a.Learner.Export(cmd.Context(), w, from)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records\n", n)
				return nil
			})
		},
	}
	export.Flags().StringVar(&since, "since", "", "RFC 3339 timestamp or a duration such as 168h")
	export.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")

	parent.AddCommand(export)
	return parent
}

// parseSince accepts an RFC 3339 instant or a look-back duration.
func parseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 or a positive duration", value)
	}
	return now.Add(-d), nil
}
