package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// TestGetBlockConcurrentCallersConvergeOnOneBlock drives GetBlock from many
// goroutines at once, the same way the BFS engine's per-level errgroup
// fan-out calls it via ProxyDetector.Detect on every address. Every caller
// must observe the same pinned block even though the lazy resolve races.
func TestGetBlockConcurrentCallersConvergeOnOneBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x64"}`))
	}))
	defer srv.Close()

	p := NewJSONRPCProvider(srv.URL, 25, 0, zerolog.Nop())

	const callers = 50
	results := make([]uint64, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.GetBlock(context.Background())
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, uint64(100), results[i])
	}
}
