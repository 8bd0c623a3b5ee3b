package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joelkehle/value-model-agent/internal/report"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the export format names and the common file
// extensions for them.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", NewValidationError(fmt.Sprintf("unsupported export format %q", s))
}

// Export is a rendered model ready to hand to a user.
type Export struct {
	Format      Format `json:"format"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Data        []byte `json:"data"`
}

// Exporter renders models in every export format. The PDF renderer is
// optional; without one PDF exports fail as unavailable.
type Exporter struct {
	reports *report.Builder
	pdf     report.PDFRenderer
}

func NewExporter(reports *report.Builder, pdf report.PDFRenderer) *Exporter {
	return &Exporter{reports: reports, pdf: pdf}
}

func (x *Exporter) Export(ctx context.Context, m Model, format Format) (Export, error) {
	base := filename(m)
	switch format {
	case FormatJSON:
		blob, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return Export{}, fmt.Errorf("marshal model: %w", err)
		}
		return Export{Format: format, ContentType: "application/json", Filename: base + ".json", Data: blob}, nil
	case FormatMarkdown:
		md := x.reports.Markdown(ToContext(m))
		return Export{Format: format, ContentType: "text/markdown; charset=utf-8", Filename: base + ".md", Data: []byte(md)}, nil
	case FormatHTML:
		doc, err := report.HTML(x.reports.Markdown(ToContext(m)), m.Name)
		if err != nil {
			return Export{}, err
		}
		return Export{Format: format, ContentType: "text/html; charset=utf-8", Filename: base + ".html", Data: []byte(doc)}, nil
	case FormatPDF:
		if x.pdf == nil {
			return Export{}, NewUnavailableError("pdf rendering is not configured")
		}
		doc, err := report.HTML(x.reports.Markdown(ToContext(m)), m.Name)
		if err != nil {
			return Export{}, err
		}
		pdf, err := x.pdf.Render(ctx, doc, report.PDFMeta{
			Title:    m.Name,
			Industry: m.Hypothesis.Industry,
			Stage:    string(m.Hypothesis.Stage),
			Prepared: m.UpdatedAt,
		})
		if err != nil {
			return Export{}, fmt.Errorf("render pdf: %w", err)
		}
		return Export{Format: format, ContentType: "application/pdf", Filename: base + ".pdf", Data: pdf}, nil
	}
	return Export{}, NewValidationError(fmt.Sprintf("unsupported export format %q", format))
}

func filename(m Model) string {
	var b strings.Builder
	for _, r := range strings.ToLower(m.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "value-model"
	}
	return name
}
