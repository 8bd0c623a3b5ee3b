package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFRenderer turns an HTML document into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, htmlDoc string, meta PDFMeta) ([]byte, error)
}

// PDFMeta is printed in the running header and footer of every page.
type PDFMeta struct {
	Title    string
	Industry string
	Stage    string
	Prepared time.Time
}

const pageChrome = `font-family:Helvetica,Arial,sans-serif;font-size:8px;color:#555;width:100%;margin:0 0.5in;`

func headerTemplate(meta PDFMeta) string {
	label := "Value Model"
	if title := strings.TrimSpace(meta.Title); title != "" {
		label += ": " + html.EscapeString(title)
	}
	var right []string
	if meta.Industry != "" {
		right = append(right, meta.Industry)
	}
	if meta.Stage != "" {
		right = append(right, strings.ReplaceAll(meta.Stage, "_", " "))
	}
	return fmt.Sprintf(`<div style="%sdisplay:flex;justify-content:space-between;">`+
		`<span>%s</span><span>%s</span></div>`,
		pageChrome, label, html.EscapeString(strings.Join(right, " / ")))
}

func footerTemplate(meta PDFMeta) string {
	prepared := ""
	if !meta.Prepared.IsZero() {
		prepared = "Prepared " + meta.Prepared.UTC().Format("January 2, 2006") + " &middot; "
	}
	return fmt.Sprintf(`<div style="%stext-align:center;">%sPage <span class="pageNumber"></span> of <span class="totalPages"></span></div>`,
		pageChrome, prepared)
}

// printParams lays reports out on US Letter with the model's running header.
func printParams(meta PDFMeta) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(headerTemplate(meta)).
		WithFooterTemplate(footerTemplate(meta)).
		WithPaperWidth(8.5).
		WithPaperHeight(11).
		WithMarginTop(0.75).
		WithMarginBottom(0.75).
		WithMarginLeft(0.5).
		WithMarginRight(0.5)
}

type ChromiumPDFRenderer struct {
	chromePath string
	timeout    time.Duration
}

func NewChromiumPDFRenderer(chromePath string) *ChromiumPDFRenderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	return &ChromiumPDFRenderer{chromePath: chromePath, timeout: 30 * time.Second}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, htmlDoc string, meta PDFMeta) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := printParams(meta).Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
