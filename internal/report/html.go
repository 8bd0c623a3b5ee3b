package report

import (
	_ "embed"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed assets/report.css
var styleCSS string

var (
	reInputsHeading  = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Inputs\s*</h2>`)
	reSectionHeading = regexp.MustCompile(`<h2>([^<]*)</h2>`)
)

// HTML converts a markdown report into a standalone HTML document.
func HTML(markdown, title string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	body := applyPrintLayoutHooks(content.String())
	if strings.TrimSpace(title) == "" {
		title = "Value Model"
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<div class='report-wrap'><section class='report-viewer'>" +
		"<div class='report-html'>" + body + "</div></section></div>" +
		"</body></html>", nil
}

// applyPrintLayoutHooks marks section headings and starts the inputs appendix
// on a new printed page.
func applyPrintLayoutHooks(contentHTML string) string {
	out := reSectionHeading.ReplaceAllString(contentHTML, `<h2 data-section-heading="true">$1</h2>`)
	return reInputsHeading.ReplaceAllString(out, `<h2$1 data-page-break-before="true">Inputs</h2>`)
}
