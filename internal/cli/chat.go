package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joelkehle/value-model-agent/internal/app"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/operator"
	"github.com/joelkehle/value-model-agent/internal/report"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		statePath string
		outDir    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Build a value model in a terminal conversation",
		Long: `Start or resume a value-model conversation. Each line you type is one
message; the session is written to --state after every turn so a later run
picks up where this one stopped. Type "quit" to leave.

Exports requested in the conversation are written to --out-dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := quietLogger(cmd.ErrOrStderr())
			core, err := app.NewCore(cfg, logger, nil)
			if err != nil {
				return err
			}
			var pdf report.PDFRenderer
			if cfg.Report.PDFEnabled {
				pdf = report.NewChromiumPDFRenderer(cfg.Report.ChromePath)
			}
			c := &chat{
				engine:   core.Engine,
				file:     operator.SessionFile{Path: statePath},
				exporter: modelstore.NewExporter(core.Reports, pdf),
				outDir:   outDir,
				out:      cmd.OutOrStdout(),
			}
			return c.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&statePath, "state", "value-model.json", "File holding the session between runs")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for exported reports")
	return cmd
}

type chat struct {
	engine   *workflow.Engine
	file     operator.SessionFile
	exporter *modelstore.Exporter
	outDir   string
	out      io.Writer
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc, err := c.file.Load(uuid.NewString())
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sc.ModelID == "" {
		sc.ModelID = uuid.NewString()
	}
	if sc.Stage == session.StageIdle {
		fmt.Fprintln(c.out, "Which company are we building a value model for?")
	} else {
		fmt.Fprintf(c.out, "Resuming %s at %s.\n", modelstore.FromContext(sc).Name, sc.Stage)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		tr, err := c.engine.Step(ctx, sc, workflow.Message{ID: uuid.NewString(), Text: line, Agent: "cli"})
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		sc = tr.Context
		for _, p := range tr.Payloads {
			if intent, ok := p.(workflow.ExportIntent); ok {
				c.export(ctx, sc, intent)
				continue
			}
			renderPayload(c.out, p)
		}
		if err := c.file.Save(ctx, sc); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return c.file.Save(ctx, sc)
}

func (c *chat) export(ctx context.Context, sc *session.Context, intent workflow.ExportIntent) {
	format, err := modelstore.ParseFormat(intent.Format)
	if err != nil {
		format = modelstore.FormatPDF
	}
	ex, err := c.exporter.Export(ctx, modelstore.FromContext(sc), format)
	if err != nil {
		fmt.Fprintf(c.out, "Export failed: %v\n", err)
		return
	}
	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		fmt.Fprintf(c.out, "Export failed: %v\n", err)
		return
	}
	path := filepath.Join(c.outDir, ex.Filename)
	if err := os.WriteFile(path, ex.Data, 0o644); err != nil {
		fmt.Fprintf(c.out, "Export failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Wrote %s\n", path)
}

func renderPayload(w io.Writer, p workflow.Payload) {
	switch v := p.(type) {
	case workflow.ResearchResult:
		fmt.Fprintln(w, v.Message)
		for _, o := range v.Recommended {
			fmt.Fprintf(w, "  %d. %s\n", o.Index, o.Name)
		}
	case workflow.FootprintResult:
		fmt.Fprintln(w, v.Message)
	case workflow.DriverOptions:
		for _, o := range v.Options {
			mark := " "
			if o.Recommended {
				mark = "*"
			}
			fmt.Fprintf(w, " %s%d. %s (%s)\n", mark, o.Index, o.Name, o.Category)
		}
		fmt.Fprintln(w, v.Prompt)
	case workflow.Question:
		fmt.Fprintln(w, v.Prompt)
	case workflow.CalculationResult:
		fmt.Fprintln(w, v.Message)
	case workflow.WhatIfResult:
		fmt.Fprintln(w, v.Message)
	case workflow.Report:
		fmt.Fprintln(w, v.Markdown)
	case workflow.Notice:
		fmt.Fprintln(w, v.Message)
	case workflow.Error:
		fmt.Fprintf(w, "error: %s\n", v.Message)
	}
}
