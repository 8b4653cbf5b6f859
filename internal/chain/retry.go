package chain

import (
	"context"
	"errors"
	"time"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
)

// RetryConfig configures exponential backoff on transient RPC failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// retryingProvider wraps a Provider, retrying any ProviderError-kind
// failure with exponential backoff before giving up and propagating it.
// An exhausted retry budget fails that call only; the caller records it
// per-field.
type retryingProvider struct {
	inner  Provider
	config RetryConfig
	log    zerolog.Logger
}

// WithRetry decorates a Provider with retry-on-transient-failure behavior.
func WithRetry(p Provider, config RetryConfig, log zerolog.Logger) Provider {
	return &retryingProvider{inner: p, config: config, log: log.With().Str("component", "provider_retry").Logger()}
}

func (r *retryingProvider) run(ctx context.Context, op string, fn func() error) error {
	delay := r.config.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.config.BackoffFactor)
			if delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var de *models.DiscoveryError
		if !errors.As(err, &de) || de.Kind != models.ProviderError {
			return err // not retryable
		}
		r.log.Warn().Str("op", op).Int("attempt", attempt+1).Err(err).Msg("retrying provider call")
	}
	return lastErr
}

func (r *retryingProvider) GetCode(ctx context.Context, addr models.Address) ([]byte, error) {
	var out []byte
	err := r.run(ctx, "GetCode", func() error {
		var e error
		out, e = r.inner.GetCode(ctx, addr)
		return e
	})
	return out, err
}

func (r *retryingProvider) GetStorage(ctx context.Context, addr models.Address, slot models.Hash) (models.Hash, error) {
	var out models.Hash
	err := r.run(ctx, "GetStorage", func() error {
		var e error
		out, e = r.inner.GetStorage(ctx, addr, slot)
		return e
	})
	return out, err
}

func (r *retryingProvider) Call(ctx context.Context, addr models.Address, data []byte) ([]byte, error) {
	var out []byte
	err := r.run(ctx, "Call", func() error {
		var e error
		out, e = r.inner.Call(ctx, addr, data)
		return e
	})
	return out, err
}

func (r *retryingProvider) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	var out []Log
	err := r.run(ctx, "GetLogs", func() error {
		var e error
		out, e = r.inner.GetLogs(ctx, filter)
		return e
	})
	return out, err
}

func (r *retryingProvider) GetBlock(ctx context.Context) (uint64, error) {
	var out uint64
	err := r.run(ctx, "GetBlock", func() error {
		var e error
		out, e = r.inner.GetBlock(ctx)
		return e
	})
	return out, err
}
