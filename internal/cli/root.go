// Package cli implements the valuemodel command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joelkehle/value-model-agent/internal/config"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "valuemodel",
		Short: "Build and inspect B2B value models from the terminal",
		Long: `valuemodel works with the value-model catalog, calculator and stored models.

Examples:
  valuemodel drivers                              # List value drivers
  valuemodel calc --driver rep_productivity --input reps=20
  valuemodel chat --state acme.json               # Build a model interactively
  valuemodel models export <id> --format pdf      # Export a stored model`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file")

	cmd.AddCommand(
		newDriversCmd(),
		newBenchmarkCmd(),
		newMatchCmd(opts),
		newCalcCmd(opts),
		newChatCmd(opts),
		newModelsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}

// quietLogger logs warnings and worse to stderr so command output stays
// clean.
func quietLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
