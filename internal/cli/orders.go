package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// NewPruneOrdersCommand creates the prune-orders command.
func NewPruneOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "prune-orders",
		Short:        "保持期間 (ORDER_RETENTION_DAYS) を過ぎた注文履歴を削除",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.NewApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			removed, err := a.History.Prune(cmd.Context(), now)
			if err != nil {
				return err
			}
			cutoff := a.History.RetentionCutoff(now).Format("2006-01-02")

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"removed": removed, "cutoff": cutoff})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d order lines created before %s\n", removed, cutoff)
			return nil
		},
	}
	return cmd
}

// NewImportOrdersCommand creates the import-orders command.
func NewImportOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "import-orders <shop> <file>",
		Short:        ".xlsx/.csvの注文明細を注文履歴に取り込む",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			shop, path := args[0], args[1]

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("ファイルを開けませんでした: %w", err)
			}
			defer f.Close()

			a, err := rootOpts.NewApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.History.ImportSpreadsheet(cmd.Context(), shop, filepath.Base(path), f)
			if err != nil {
				return err
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rows: %d, inserted: %d, skipped: %d\n", result.Rows, result.Inserted, result.Skipped)
			writeWarnings(cmd.OutOrStdout(), result.Errors)
			return nil
		},
	}
	return cmd
}
