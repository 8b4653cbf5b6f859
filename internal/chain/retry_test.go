package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// flakyProvider fails GetBlock with a ProviderError a fixed number of times
// before succeeding, and always fails GetCode with a non-retryable error.
type flakyProvider struct {
	FakeProvider
	failures int
	calls    int
}

func (f *flakyProvider) GetBlock(ctx context.Context) (uint64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, models.NewError(models.ProviderError, "eth_blockNumber", "transient")
	}
	return 42, nil
}

func (f *flakyProvider) GetCode(ctx context.Context, addr models.Address) ([]byte, error) {
	f.calls++
	return nil, errors.New("bad request")
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryRecoversFromTransientProviderError(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	p := WithRetry(inner, fastRetryConfig(), zerolog.Nop())

	block, err := p.GetBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), block)
	require.Equal(t, 3, inner.calls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyProvider{failures: 100}
	p := WithRetry(inner, fastRetryConfig(), zerolog.Nop())

	_, err := p.GetBlock(context.Background())
	require.Error(t, err)
	require.Equal(t, 4, inner.calls) // 1 initial + 3 retries

	var de *models.DiscoveryError
	require.ErrorAs(t, err, &de)
	require.Equal(t, models.ProviderError, de.Kind)
}

func TestRetryDoesNotRetryNonRetryableErrors(t *testing.T) {
	inner := &flakyProvider{}
	p := WithRetry(inner, fastRetryConfig(), zerolog.Nop())

	_, err := p.GetCode(context.Background(), models.Address{})
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}
