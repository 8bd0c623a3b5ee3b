package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joelkehle/value-model-agent/internal/session"
)

const systemPrompt = "You are a B2B sales research assistant. Given a company name or website, describe the company " +
	"for value-selling purposes. Respond with strict JSON only."

const DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

type failureClass int

const (
	failureTimeout failureClass = iota + 1
	failureRateLimit
	failureServer
	failureClient
)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicEnricher asks a Claude model to profile a company.
type AnthropicEnricher struct {
	messages AnthropicMessager
	model    string
	attempts int
	backoff  func(attempt int) time.Duration
}

func NewAnthropicEnricher(apiKey, model string) (*AnthropicEnricher, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicEnricherWithMessager(&c.Messages, model), nil
}

func NewAnthropicEnricherWithMessager(m AnthropicMessager, model string) *AnthropicEnricher {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicEnricher{messages: m, model: model, attempts: 3, backoff: backoffDelay}
}

type companyJSON struct {
	Name        string            `json:"name"`
	Industry    string            `json:"industry"`
	Size        string            `json:"size"`
	Description string            `json:"description"`
	KeyMetrics  map[string]string `json:"key_metrics"`
}

func (a *AnthropicEnricher) Enrich(ctx context.Context, nameOrURL string) (session.CompanyInfo, error) {
	prompt := fmt.Sprintf("Company: %s\n\n"+
		"Return JSON with fields: name (string), industry (short label such as saas, financial services, healthcare, manufacturing), "+
		"size (employee band), description (one sentence), key_metrics (object of short string values).\n"+
		"Respond with only valid JSON.", strings.TrimSpace(nameOrURL))

	feedback := ""
	for attempt := 1; attempt <= a.attempts; attempt++ {
		full := prompt
		if feedback != "" {
			full += "\n\n" + feedback
		}
		raw, err := a.generate(ctx, full)
		if err != nil {
			class := classifyTransportError(err)
			if (class == failureTimeout || class == failureRateLimit || class == failureServer) && attempt < a.attempts {
				if werr := wait(ctx, a.backoff(attempt)); werr != nil {
					return session.CompanyInfo{}, werr
				}
				continue
			}
			return session.CompanyInfo{}, fmt.Errorf("enrich transport failure: %w", err)
		}

		var out companyJSON
		if err := json.Unmarshal([]byte(stripCodeFences(raw)), &out); err != nil {
			feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
			continue
		}
		if strings.TrimSpace(out.Name) == "" {
			feedback = "Your previous response was missing the name field."
			continue
		}
		return session.CompanyInfo{
			Name:        strings.TrimSpace(out.Name),
			Industry:    strings.TrimSpace(out.Industry),
			Size:        strings.TrimSpace(out.Size),
			Description: strings.TrimSpace(out.Description),
			KeyMetrics:  out.KeyMetrics,
		}, nil
	}
	return session.CompanyInfo{}, errors.New("enrich failed after retries")
}

func (a *AnthropicEnricher) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return failureRateLimit
		case apiErr.StatusCode >= 500:
			return failureServer
		case apiErr.StatusCode >= 400:
			return failureClient
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
