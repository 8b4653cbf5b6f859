package analyzer

import (
	"context"
	"math/big"
	"testing"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/contractgraph/discovery/internal/proxy"
	"github.com/contractgraph/discovery/internal/sourcecode"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeSourceService returns a canned sourcecode.Result regardless of which
// address is asked for, so tests can drive AddressAnalyzer without an
// explorer API.
type fakeSourceService struct {
	result *sourcecode.Result
}

func (f fakeSourceService) Fetch(ctx context.Context, address models.Address, implementations []models.Address) (*sourcecode.Result, error) {
	return f.result, nil
}

func emptySourceResult() *sourcecode.Result {
	return &sourcecode.Result{
		ABI:             map[int]*abi.ABI{},
		Sources:         map[int]string{},
		SourceHashes:    []models.Hash{},
		ConstructorArgs: map[int][]byte{},
	}
}

func newTestConfig() *models.StructureConfig {
	return &models.StructureConfig{
		Name:      "test",
		Chain:     "ethereum",
		Overrides: map[models.Address]*models.StructureContract{},
	}
}

// addressSlotValue packs an address into a 32-byte storage word the way
// Solidity stores it (right-aligned, zero-padded).
func addressSlotValue(a models.Address) models.Hash {
	var h models.Hash
	copy(h[12:], a[:])
	return h
}

// eip1967ImplementationSlot mirrors proxy.Detector's private eip1967Slot
// derivation for "eip1967.proxy.implementation", since that slot constant
// isn't exported.
func eip1967ImplementationSlot() models.Hash {
	h := crypto.Keccak256([]byte("eip1967.proxy.implementation"))
	n := new(big.Int).SetBytes(h)
	n.Sub(n, big.NewInt(1))
	return models.HashFromBig(n)
}

func TestAnalyzeClassifiesEOAWhenCodeIsEmpty(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x00000000000000000000000000000000000000a0")

	a := New(proxy.NewDetector(provider), fakeSourceService{result: emptySourceResult()}, nil, newTestConfig(), zerolog.Nop())
	result, err := a.Analyze(context.Background(), provider, addr, nil, 0)
	require.NoError(t, err)
	require.True(t, result.IsEOA())
	require.Equal(t, addr, result.Address)
}

func TestAnalyzeIncludesProxyImplementationInRelatives(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0x00000000000000000000000000000000000000b0")
	implAddr := models.MustParseAddress("0x00000000000000000000000000000000000000c0")

	provider.SetCode(proxyAddr, []byte{0x60, 0x01})
	provider.SetStorage(proxyAddr, eip1967ImplementationSlot(), addressSlotValue(implAddr))

	a := New(proxy.NewDetector(provider), fakeSourceService{result: emptySourceResult()}, nil, newTestConfig(), zerolog.Nop())
	result, err := a.Analyze(context.Background(), provider, proxyAddr, nil, 0)
	require.NoError(t, err)
	require.True(t, result.IsContract())
	require.Equal(t, models.ProxyUUPS, result.ProxyType)
	require.Equal(t, []models.Address{implAddr}, result.Implementations)
	require.True(t, result.Relatives.Has(implAddr))
	require.False(t, result.Relatives.Has(proxyAddr))
}

func TestAnalyzeIgnoreDiscoverySkipsHandlerExecution(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x00000000000000000000000000000000000000d0")
	provider.SetCode(addr, []byte{0x60, 0x01})

	cfg := newTestConfig()
	override := &models.StructureContract{}
	require.NoError(t, override.UnmarshalJSON([]byte(`{
		"ignoreDiscovery": true,
		"fields": {"owner": {"handler": "call", "params": {"method": "owner"}}}
	}`)))
	cfg.Overrides[addr] = override

	a := New(proxy.NewDetector(provider), fakeSourceService{result: emptySourceResult()}, nil, cfg, zerolog.Nop())
	result, err := a.Analyze(context.Background(), provider, addr, nil, 0)
	require.NoError(t, err)
	require.True(t, result.IsContract())
	require.Empty(t, result.Values)
	require.Empty(t, result.Errors)
}

func TestAnalyzeCapturesHandlerErrorWithoutAborting(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x00000000000000000000000000000000000000e0")
	provider.SetCode(addr, []byte{0x60, 0x01})

	cfg := newTestConfig()
	override := &models.StructureContract{}
	require.NoError(t, override.UnmarshalJSON([]byte(`{
		"fields": {
			"owner": {"handler": "call", "params": {"method": "owner"}},
			"label": {"handler": "hardcoded", "params": {"value": "fixed"}}
		}
	}`)))
	cfg.Overrides[addr] = override

	a := New(proxy.NewDetector(provider), fakeSourceService{result: emptySourceResult()}, nil, cfg, zerolog.Nop())
	result, err := a.Analyze(context.Background(), provider, addr, nil, 0)
	require.NoError(t, err)
	require.Equal(t, models.MissingAbi, result.Errors["owner"])
	require.Contains(t, result.Values, "label")
}
