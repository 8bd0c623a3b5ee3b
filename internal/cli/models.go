package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/value-model-agent/internal/config"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/report"
)

type storeFlags struct {
	server string
	dbPath string
}

// open returns the remote store when --server is set, otherwise the local
// SQLite database.
func (f *storeFlags) open(opts *rootOptions) (modelstore.Store, func(), error) {
	if f.server != "" {
		return modelstore.NewClient(f.server), func() {}, nil
	}
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	path := f.dbPath
	if path == "" {
		path = cfg.Store.DBPath
	}
	store, err := modelstore.NewSQLiteStore(path, localExporter(cfg))
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func localExporter(cfg config.Config) *modelstore.Exporter {
	var pdf report.PDFRenderer
	if cfg.Report.PDFEnabled {
		pdf = report.NewChromiumPDFRenderer(cfg.Report.ChromePath)
	}
	return modelstore.NewExporter(report.NewBuilder(drivers.NewCatalog()), pdf)
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	flags := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List, show and export stored value models",
		Long: `Work with stored value models, either in a local database or through a
running value-agent.

Examples:
  valuemodel models list --db data/value-models.db
  valuemodel models show <id> --server http://localhost:8080
  valuemodel models export <id> --format markdown -o acme.md`,
	}
	cmd.PersistentFlags().StringVar(&flags.server, "server", "", "Base URL of a running value-agent")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "Path to a local model database (defaults to the configured one)")

	cmd.AddCommand(
		newModelsListCmd(opts, flags),
		newModelsShowCmd(opts, flags),
		newModelsExportCmd(opts, flags),
	)
	return cmd
}

func newModelsListCmd(opts *rootOptions, flags *storeFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored models, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := flags.open(opts)
			if err != nil {
				return err
			}
			defer closeFn()
			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, list)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTAGE\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Stage, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newModelsShowCmd(opts *rootOptions, flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored model as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := flags.open(opts)
			if err != nil {
				return err
			}
			defer closeFn()
			m, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newModelsExportCmd(opts *rootOptions, flags *storeFlags) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a stored model as pdf, markdown, html or json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := modelstore.ParseFormat(format)
			if err != nil {
				return err
			}
			store, closeFn, err := flags.open(opts)
			if err != nil {
				return err
			}
			defer closeFn()
			ex, err := store.Export(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err := cmd.OutOrStdout().Write(ex.Data)
				return err
			}
			if output == "" {
				output = ex.Filename
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(output, ex.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, len(ex.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "pdf", "Export format: pdf, markdown, html or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file; - for stdout (defaults to the model's file name)")
	return cmd
}
