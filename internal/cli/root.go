// Package cli はrestock-cliのコマンド群です。
package cli

import (
	"context"
	"fmt"
	"os"

	config "restock-api/configs"
	"restock-api/internal/app"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	PolicyFile string
	NoProgress bool

	// NewApp はアプリケーションを組み立てます。テストで差し替えます。
	NewApp func(ctx context.Context, opts *RootOptions) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for restock-cli.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewApp: defaultNewApp})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "restock-cli",
		SilenceErrors: true,
		Short:         "在庫補充予測のワンショット実行",
		Long:          "ショップのカタログと注文からバリアントごとの推奨補充数を計算し、注文履歴を管理します。",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.PolicyFile, "policy", "", "prediction policy YAML (default: POLICY_FILE)")
	cmd.PersistentFlags().BoolVar(&opts.NoProgress, "no-progress", false, "disable the progress bar")

	cmd.AddCommand(NewPredictCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewPruneOrdersCommand(opts))
	cmd.AddCommand(NewImportOrdersCommand(opts))

	return cmd
}

func defaultNewApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg := config.LoadConfig()
	config.SetupLogger(cfg, os.Stderr)
	if opts.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	policyFile := cfg.PolicyFile
	if opts.PolicyFile != "" {
		policyFile = opts.PolicyFile
	}
	policy, err := config.LoadPredictionPolicy(policyFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, policy, app.Options{})
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
