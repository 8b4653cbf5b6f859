package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contractgraph/discovery/internal/cache"
	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newSignatureTestResolver(t *testing.T, baseURL string) *SignatureResolver {
	t.Helper()
	l1, err := cache.NewRistrettoConnector()
	require.NoError(t, err)
	t.Cleanup(l1.Close)
	return &SignatureResolver{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		cache:      cache.NewCache(zerolog.Nop(), l1),
	}
}

func TestParseTextSignature(t *testing.T) {
	name, inputs, err := parseTextSignature("transfer(address,uint256)")
	require.NoError(t, err)
	require.Equal(t, "transfer", name)
	require.Len(t, inputs, 2)

	name, inputs, err = parseTextSignature("owner()")
	require.NoError(t, err)
	require.Equal(t, "owner", name)
	require.Empty(t, inputs)

	_, _, err = parseTextSignature("not a signature")
	require.Error(t, err)
}

func TestIsSelector(t *testing.T) {
	require.True(t, isSelector("0x8da5cb5b"))
	require.False(t, isSelector("owner"))
	require.False(t, isSelector("0x8da5cb"))
	require.False(t, isSelector("0xzzzzzzzz"))
}

func TestCallHandlerFallsBackToSelectorLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0x8da5cb5b", r.URL.Query().Get("hex_signature"))
		_ = json.NewEncoder(w).Encode(fourByteResponse{
			Results: []fourByteSignature{{TextSignature: "owner()"}},
		})
	}))
	defer srv.Close()

	provider := chain.NewFakeProvider()
	contract := models.MustParseAddress("0x00000000000000000000000000000000000000c1")
	owner := models.MustParseAddress("0x00000000000000000000000000000000000000c2")
	var word [32]byte
	copy(word[12:], owner[:])
	// owner() has selector 0x8da5cb5b
	provider.SetCall(contract, "0x8da5cb5b", word[:])

	params, _ := json.Marshal(map[string]any{"method": "0x8da5cb5b", "returnType": "address"})
	h, err := Dispatch(KindCall)
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), Input{
		Provider:   provider,
		Address:    contract,
		Signatures: newSignatureTestResolver(t, srv.URL),
		Params:     params,
		FieldName:  "owner",
	})
	require.NoError(t, err)
	require.Equal(t, owner, out.Value.Address())
	require.Equal(t, []models.Address{owner}, out.Relatives)
}

func TestCallHandlerWithoutResolverStillReportsMissingAbi(t *testing.T) {
	params, _ := json.Marshal(map[string]any{"method": "owner"})
	h, err := Dispatch(KindCall)
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), Input{
		Provider:  chain.NewFakeProvider(),
		Address:   models.MustParseAddress("0x00000000000000000000000000000000000000c3"),
		Params:    params,
		FieldName: "owner",
	})
	var de *models.DiscoveryError
	require.ErrorAs(t, err, &de)
	require.Equal(t, models.MissingAbi, de.Kind)
}
