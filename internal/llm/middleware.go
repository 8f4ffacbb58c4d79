package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (Completion, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}

// NewLimiter builds a limiter allowing rpm calls per minute with the given
// burst. A non-positive rpm returns nil, meaning unlimited.
func NewLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// Limited waits on limiter before every call. A nil limiter returns p unchanged.
func Limited(p Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return ProviderFunc(func(ctx context.Context, req Request) (Completion, error) {
		if err := limiter.Wait(ctx); err != nil {
			return Completion{}, fmt.Errorf("llm: rate limit wait: %w", err)
		}
		return p.Complete(ctx, req)
	})
}

// WithTimeout bounds every call to d. A non-positive d returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return ProviderFunc(func(ctx context.Context, req Request) (Completion, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return p.Complete(ctx, req)
	})
}

// WithRetry retries throttled and server-side failures up to retries extra
// times, doubling the delay from backoff each attempt. Other errors are
// returned immediately.
func WithRetry(p Provider, retries int, backoff time.Duration) Provider {
	if retries <= 0 {
		return p
	}
	return ProviderFunc(func(ctx context.Context, req Request) (Completion, error) {
		var lastErr error
		for i := 0; i <= retries; i++ {
			c, err := p.Complete(ctx, req)
			if err == nil {
				return c, nil
			}
			lastErr = err
			if !Retryable(err) || i == retries {
				break
			}
			select {
			case <-ctx.Done():
				return Completion{}, fmt.Errorf("llm: retry: %w", ctx.Err())
			case <-time.After(backoff * time.Duration(1<<i)):
			}
		}
		return Completion{}, lastErr
	})
}

// Retryable reports whether err looks like a rate limit or transient server
// error. The SDKs disagree on error types, so the message is inspected.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "overloaded", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
