package cli

import (
	"time"

	"restock-api/pkg/services"

	"github.com/spf13/cobra"
)

// PredictOptions holds flags for the predict command.
type PredictOptions struct {
	*RootOptions
	PredictionDays int
	Status         string
	SkipInventory  bool
}

// NewPredictCommand creates the predict command.
func NewPredictCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PredictOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "predict <shop>",
		Short: "バリアントごとの推奨補充数と緊急度を計算",
		Long: `カタログと直近の注文を取得し、集計期間ごとの推奨補充数と緊急度を出力します。

--days を省略した場合は予測ポリシーの default_prediction_days を使用します。`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.PredictionDays, "days", 0, "prediction horizon in days")
	cmd.Flags().StringVar(&opts.Status, "status", "", "product status filter (e.g. active,draft)")
	cmd.Flags().BoolVar(&opts.SkipInventory, "skip-inventory", false, "use catalog quantities instead of per-location inventory")

	return cmd
}

func runPredict(opts *PredictOptions, shop string, cmd *cobra.Command) error {
	a, err := opts.NewApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	days := opts.PredictionDays
	if days == 0 {
		days = a.Policy.DefaultPredictionDays
	}

	predictOpts := services.PredictionOptions{SkipInventory: opts.SkipInventory}
	var progress *progressReporter
	if !opts.NoProgress {
		progress = newProgressReporter(cmd.ErrOrStderr())
		predictOpts.OnProgress = progress.OnProgress
	}

	start := time.Now()
	result, err := a.Predictions.GeneratePredictions(cmd.Context(), shop, days, opts.Status, predictOpts)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	if opts.Verbose {
		cmd.PrintErrf("%d variants in %s\n", len(result.Records), time.Since(start).Round(time.Millisecond))
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	return writePredictionsText(cmd.OutOrStdout(), result)
}
