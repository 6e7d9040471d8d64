package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Provider translates one text. It returns a *RateLimitError when the
// upstream refuses for rate or quota reasons.
type Provider interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Service answers translate_batch requests. Texts are deduplicated, served
// from the cache when possible, and sent to the provider one at a time with
// a delay between provider calls. The first rate-limit error stops the loop:
// every text not yet translated gets a sentinel.
type Service struct {
	provider   Provider
	cache      *Cache
	targetLang string
	delay      time.Duration
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache serves and stores translations in c.
func WithCache(c *Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithTargetLang sets the target language. Default: "en".
func WithTargetLang(lang string) ServiceOption {
	return func(s *Service) {
		if lang != "" {
			s.targetLang = lang
		}
	}
}

// WithRequestDelay sets the pause between two provider calls.
func WithRequestDelay(d time.Duration) ServiceOption {
	return func(s *Service) { s.delay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service over provider.
func NewService(provider Provider, opts ...ServiceOption) *Service {
	s := &Service{
		provider:   provider,
		targetLang: "en",
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Translate returns one Map entry per distinct text.
func (s *Service) Translate(ctx context.Context, texts []string) Map {
	out := make(Map, len(texts))
	var (
		calls   int
		limited error
	)

	for _, text := range texts {
		if _, done := out[text]; done {
			continue
		}
		if limited != nil {
			out[text] = Failure(limited.Error())
			continue
		}
		if err := ctx.Err(); err != nil {
			out[text] = Failure(err.Error())
			continue
		}

		if s.cache != nil {
			cached, ok, err := s.cache.Get(ctx, text, s.targetLang)
			if err != nil {
				s.logger.Warn("translator: cache get", "error", err)
			} else if ok {
				out[text] = cached
				continue
			}
		}

		if calls > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				out[text] = Failure(err.Error())
				continue
			}
		}
		calls++

		translated, err := s.provider.Translate(ctx, text, s.targetLang)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				limited = err
				s.logger.Warn("translator: rate limited, skipping rest of batch", "error", err)
			}
			out[text] = Failure(err.Error())
			continue
		}
		out[text] = translated

		if s.cache != nil {
			if err := s.cache.Put(ctx, text, s.targetLang, translated); err != nil {
				s.logger.Warn("translator: cache put", "error", err)
			}
		}
	}

	s.logger.Debug("translator: batch done",
		"texts", len(texts), "unique", len(out), "provider_calls", calls, "rate_limited", limited != nil)
	return out
}

// Handle is the connectivity handler for translate_batch.
func (s *Service) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("translator: decode request: %w", err)
	}
	if req.Action != "" && req.Action != ActionTranslateBatch {
		return nil, fmt.Errorf("translator: unsupported action %q", req.Action)
	}
	return json.Marshal(s.Translate(ctx, req.Texts))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
