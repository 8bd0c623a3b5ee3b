package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/report"
)

func newDriversCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List the value drivers and their inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := drivers.NewCatalog()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{
					"drivers":           catalog.List(),
					"commercial_inputs": catalog.CommercialInputs(),
					"default_selection": catalog.DefaultSelection(),
				})
			}
			defaults := catalog.DefaultSelection()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tDEFAULT\tINPUTS")
			for _, d := range catalog.List() {
				def := ""
				if slices.Contains(defaults, d.ID) {
					def = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Category, def, strings.Join(d.InputIDs(), ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newBenchmarkCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "benchmark <industry>",
		Short: "Show the industry benchmark defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := drivers.BenchmarkFor(args[0])
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, b)
			}
			fmt.Fprintf(out, "Industry: %s\n", b.Industry)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, k := range slices.Sorted(maps.Keys(b.Defaults)) {
				fmt.Fprintf(w, "%s\t%s\n", k, strconv.FormatFloat(b.Defaults[k], 'f', -1, 64))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var (
		industry, persona, problem string
		asJSON                     bool
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a prospect against the value pattern library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			catalog := drivers.NewCatalog()
			var lib *patterns.Library
			if cfg.Patterns.File != "" {
				lib, err = patterns.LoadFile(cfg.Patterns.File, catalog)
			} else {
				lib, err = patterns.NewLibrary(catalog)
			}
			if err != nil {
				return err
			}
			rec := lib.Best(industry, persona, problem)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rec)
			}
			if rec.Fallback {
				fmt.Fprintln(out, "No pattern matched; using the general fallback.")
			} else {
				fmt.Fprintf(out, "Matched: %s (confidence %.0f%%)\n", strings.Join(rec.MatchedIDs, ", "), rec.Confidence*100)
			}
			fmt.Fprintf(out, "Pattern: %s\n", rec.Pattern.Name)
			fmt.Fprintf(out, "Drivers: %s\n", strings.Join(rec.Pattern.Drivers.All(), ", "))
			if len(rec.Pattern.KPIs) > 0 {
				fmt.Fprintf(out, "KPIs: %s\n", strings.Join(rec.Pattern.KPIs, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&industry, "industry", "", "Prospect industry")
	cmd.Flags().StringVar(&persona, "persona", "", "Buyer persona")
	cmd.Flags().StringVar(&problem, "problem", "", "Problem statement")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newCalcCmd(opts *rootOptions) *cobra.Command {
	var (
		driverIDs []string
		rawInputs []string
		industry  string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate a value model from drivers and inputs",
		Long: `Calculate a value model. Inputs not given are filled from the industry
benchmark, then the catalog defaults. Without --driver the default selection
is used.

Examples:
  valuemodel calc --driver rep_productivity --input reps=20 --input hourly_rate=60
  valuemodel calc --industry saas --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			catalog := drivers.NewCatalog()
			calculator, err := calc.New(cfg.Calc, catalog)
			if err != nil {
				return err
			}
			ids := driverIDs
			if len(ids) == 0 {
				ids = catalog.DefaultSelection()
			}
			for _, id := range ids {
				if !catalog.Has(id) {
					return fmt.Errorf("unknown driver %q", id)
				}
			}
			in, err := parseInputs(rawInputs)
			if err != nil {
				return err
			}
			selected := catalog.Select(ids)
			backfilled := calc.Backfill(catalog, selected, in, industry)
			res := calculator.Calculate(selected, in)
			res.Backfilled = backfilled

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"result": res, "inputs": in})
			}
			return printResult(out, catalog, res)
		},
	}
	cmd.Flags().StringSliceVar(&driverIDs, "driver", nil, "Driver id to include (repeatable)")
	cmd.Flags().StringArrayVar(&rawInputs, "input", nil, "Input value as id=value (repeatable)")
	cmd.Flags().StringVar(&industry, "industry", "", "Industry used for benchmark defaults")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

// parseInputs reads id=value pairs. Values may carry $, commas, % or a k/m
// suffix.
func parseInputs(raw []string) (*drivers.Inputs, error) {
	in := drivers.NewInputs()
	for _, kv := range raw {
		id, val, ok := strings.Cut(kv, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("input %q: want id=value", kv)
		}
		v, err := parseNumber(val)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", id, err)
		}
		in.Set(id, v)
	}
	return in, nil
}

func parseNumber(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("$", "", ",", "", "%", "").Replace(s)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return v * mult, nil
}

func printResult(out io.Writer, catalog *drivers.Catalog, res calc.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DRIVER\tANNUAL VALUE")
	for _, id := range res.DriverOrder {
		name := id
		if d, ok := catalog.Get(id); ok {
			name = d.Name
		}
		fmt.Fprintf(w, "%s\t%s\n", name, report.FormatUSD(res.ByDriver[id]))
	}
	fmt.Fprintln(w, "\t")
	fmt.Fprintf(w, "Total benefits\t%s\n", report.FormatUSD(res.TotalBenefits))
	fmt.Fprintf(w, "Total costs (year 1)\t%s\n", report.FormatUSD(res.TotalCosts))
	fmt.Fprintf(w, "Net benefit (year 1)\t%s\n", report.FormatUSD(res.NetBenefit))
	fmt.Fprintf(w, "NPV\t%s\n", report.FormatUSD(res.NPV))
	fmt.Fprintf(w, "ROI\t%.0f%%\n", res.ROIPercent)
	fmt.Fprintf(w, "Payback\t%s\n", report.FormatPayback(&res))
	if err := w.Flush(); err != nil {
		return err
	}
	if len(res.Backfilled) > 0 {
		fmt.Fprintf(out, "\nDefaults used for: %s\n", strings.Join(res.Backfilled, ", "))
	}
	return nil
}
