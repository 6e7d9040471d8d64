package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"service", ServiceFrom(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
				"payload_bytes", len(payload),
			}
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "connectivity: call ok", append(attrs, "response_bytes", len(resp))...)
			}
			return resp, err
		}
	}
}

// Timeout bounds every call to d. A zero d disables it.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d <= 0 {
				return next(ctx, payload)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a handler panic into *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic",
						"service", ServiceFrom(ctx), "panic", v, "stack", string(debug.Stack()))
					err = &ErrPanic{Value: v}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// WithRetry retries failed calls up to maxRetries times, doubling the
// backoff each attempt. Open circuits, cancelled contexts and non-temporary
// remote statuses are not retried.
func WithRetry(maxRetries int, backoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var err error
			for attempt := 0; ; attempt++ {
				var resp []byte
				resp, err = next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				if attempt >= maxRetries || !retryable(ctx, err) {
					return nil, err
				}

				wait := backoff << uint(attempt)
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying",
						"service", ServiceFrom(ctx), "attempt", attempt+1, "backoff", wait, "error", err)
				}
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, err
				case <-t.C:
				}
			}
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var status *ErrRemoteStatus
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}
