package enrich

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joelkehle/value-model-agent/internal/session"
)

const DefaultTimeout = 8 * time.Second

// Enricher looks up a company by name or website.
type Enricher interface {
	Enrich(ctx context.Context, nameOrURL string) (session.CompanyInfo, error)
}

type Func func(ctx context.Context, nameOrURL string) (session.CompanyInfo, error)

func (f Func) Enrich(ctx context.Context, nameOrURL string) (session.CompanyInfo, error) {
	return f(ctx, nameOrURL)
}

// Placeholder is the generic record used when enrichment is unavailable.
func Placeholder(nameOrURL, industry string) session.CompanyInfo {
	name := DisplayName(nameOrURL)
	if name == "" {
		name = "Prospect"
	}
	return session.CompanyInfo{
		Name:        name,
		Industry:    industry,
		Description: "Company details unavailable; using generic assumptions.",
		Placeholder: true,
	}
}

// DisplayName turns a website into a readable company name and trims plain
// names.
func DisplayName(nameOrURL string) string {
	s := strings.TrimSpace(nameOrURL)
	if s == "" {
		return ""
	}
	host := ""
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			host = u.Hostname()
		}
	} else if !strings.Contains(s, " ") && strings.Count(s, ".") >= 1 {
		host = strings.SplitN(s, "/", 2)[0]
	}
	if host == "" {
		return s
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if i := strings.Index(host, "."); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return s
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

// Resilient bounds an Enricher with a timeout and never fails: any error
// yields a placeholder record.
type Resilient struct {
	inner   Enricher
	timeout time.Duration
	logger  *slog.Logger

	// OnFailure, when set, observes each degraded lookup.
	OnFailure func(err error)
}

func NewResilient(inner Enricher, timeout time.Duration, logger *slog.Logger) *Resilient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{inner: inner, timeout: timeout, logger: logger}
}

func (r *Resilient) Enrich(ctx context.Context, nameOrURL string) (session.CompanyInfo, error) {
	if r.inner == nil {
		return Placeholder(nameOrURL, ""), nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		info session.CompanyInfo
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := r.inner.Enrich(ctx, nameOrURL)
		ch <- result{info, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err == nil && strings.TrimSpace(res.info.Name) == "" {
		res.info.Name = DisplayName(nameOrURL)
	}
	if res.err != nil {
		r.logger.Warn("company enrichment degraded", "company", nameOrURL, "error", res.err)
		if r.OnFailure != nil {
			r.OnFailure(res.err)
		}
		return Placeholder(nameOrURL, ""), nil
	}
	return res.info, nil
}
