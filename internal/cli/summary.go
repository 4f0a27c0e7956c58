package cli

import (
	"fmt"
	"time"

	"restock-api/pkg/services"

	"github.com/spf13/cobra"
)

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
	Start  string
	End    string
	Status string
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:          "summary <shop>",
		Short:        "指定期間の販売実績をバリアントごとに集計",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "first day (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&opts.End, "end", "", "last day (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "product status filter (e.g. active,draft)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runSummary(opts *SummaryOptions, shop string, cmd *cobra.Command) error {
	start, err := time.ParseInLocation("2006-01-02", opts.Start, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid --start %q: %w", opts.Start, err)
	}
	end, err := time.ParseInLocation("2006-01-02", opts.End, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid --end %q: %w", opts.End, err)
	}

	a, err := opts.NewApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	summaryOpts := services.PredictionOptions{}
	var progress *progressReporter
	if !opts.NoProgress {
		progress = newProgressReporter(cmd.ErrOrStderr())
		summaryOpts.OnProgress = progress.OnProgress
	}

	result, err := a.Predictions.GenerateRangeSummary(cmd.Context(), shop, start, end, opts.Status, summaryOpts)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	return writeRangeSummaryText(cmd.OutOrStdout(), result)
}
