package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/microcosm-cc/bluemonday"
)

// defaultRetryAfter is used when a 429 carries no usable delay.
const defaultRetryAfter = 65 * time.Second

// HTTPProvider posts {text, target_lang} to an endpoint and expects
// {"translation": "..."} back. A response with "format": "html" is
// reduced to plain text.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	logger   *slog.Logger
}

type providerRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type providerResponse struct {
	Translation string `json:"translation"`
	// Format is "text" (default) or "html".
	Format string `json:"format,omitempty"`
	Error  string `json:"error,omitempty"`
}

var htmlText = bluemonday.StrictPolicy()

// plainText drops the tags of an HTML translation and decodes its entities.
func plainText(s string) string {
	return html.UnescapeString(htmlText.Sanitize(s))
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPTimeout sets the per-request timeout. Default: 30s.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) { p.client.SetTimeout(d) }
}

// WithHeader sets a header sent with every request.
func WithHeader(key, value string) HTTPOption {
	return func(p *HTTPProvider) { p.client.SetHeader(key, value) }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(p *HTTPProvider) { p.logger = l }
}

// NewHTTPProvider creates a provider for endpoint. Connection errors are
// retried twice; HTTP errors are not.
func NewHTTPProvider(endpoint string, opts ...HTTPOption) *HTTPProvider {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "viewtrans").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil
		})

	p := &HTTPProvider{client: client, endpoint: endpoint, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	p.client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		p.logger.Debug("translator: provider response",
			"status", resp.StatusCode(), "duration", resp.Time())
		return nil
	})
	return p
}

// Translate implements Provider.
func (p *HTTPProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	var out providerResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(providerRequest{Text: text, TargetLang: targetLang}).
		SetResult(&out).
		Post(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("translator: post %s: %w", p.endpoint, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return "", &RateLimitError{
			RetryAfter: retryAfter(resp.Header().Get("Retry-After"), resp.Body()),
			Detail:     truncate(resp.String(), 200),
		}
	case code >= 300:
		return "", fmt.Errorf("translator: provider status %d: %s", code, truncate(resp.String(), 200))
	}

	if out.Error != "" {
		return "", fmt.Errorf("translator: provider: %s", out.Error)
	}
	text = out.Translation
	if strings.EqualFold(out.Format, "html") {
		text = plainText(text)
	}
	if text == "" {
		return "", fmt.Errorf("translator: provider returned no translation")
	}
	return text, nil
}

// retryAfter reads a Retry-After header in seconds, or a Google-style
// RetryInfo detail in the body.
func retryAfter(header string, body []byte) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultRetryAfter
	}
	for _, d := range errResp.Error.Details {
		if strings.Contains(d.Type, "RetryInfo") && d.RetryDelay != "" {
			if secs, err := strconv.ParseFloat(strings.TrimSuffix(d.RetryDelay, "s"), 64); err == nil {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return defaultRetryAfter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
