package discovery

import (
	"context"
	"testing"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// graphAnalyzer is a fixture Analyzer driven by a fixed adjacency map, so BFS
// behavior can be tested without wiring proxy detection, source fetch, or
// template matching.
type graphAnalyzer struct {
	edges map[models.Address][]models.Address
	seen  map[models.Address]int
}

func newGraphAnalyzer(edges map[models.Address][]models.Address) *graphAnalyzer {
	return &graphAnalyzer{edges: edges, seen: map[models.Address]int{}}
}

func (g *graphAnalyzer) Analyze(ctx context.Context, provider chain.Provider, address models.Address, hints models.TemplateHints, depth int) (models.Analysis, error) {
	g.seen[address]++
	relatives, ok := g.edges[address]
	if !ok {
		return models.NewEOA(address, nil), nil
	}
	contract := models.NewContract(address)
	contract.Relatives = models.NewAddressSet(relatives...)
	return contract, nil
}

func addr(last byte) models.Address {
	var a models.Address
	a[19] = last
	return a
}

func TestDiscoverReachesEveryRelativeTransitively(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	analyzer := newGraphAnalyzer(map[models.Address][]models.Address{
		a: {b},
		b: {c},
	})
	cfg := &models.StructureConfig{Name: "t", Chain: "ethereum", InitialAddresses: []models.Address{a}, MaxAddresses: 10, MaxDepth: models.NoMaxDepth}

	engine := New(analyzer, zerolog.Nop())
	results, err := engine.Discover(context.Background(), chain.NewFakeProvider(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	addrs := map[models.Address]bool{}
	for _, r := range results {
		addrs[r.Address] = true
	}
	require.True(t, addrs[a])
	require.True(t, addrs[b])
	require.True(t, addrs[c])
}

func TestDiscoverResultsAreOrderedByAddressAscending(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	analyzer := newGraphAnalyzer(map[models.Address][]models.Address{
		a: {b, c},
	})
	cfg := &models.StructureConfig{Name: "t", Chain: "ethereum", InitialAddresses: []models.Address{a}, MaxAddresses: 10, MaxDepth: models.NoMaxDepth}

	engine := New(analyzer, zerolog.Nop())
	results, err := engine.Discover(context.Background(), chain.NewFakeProvider(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		require.True(t, results[i-1].Address.Hex() < results[i].Address.Hex())
	}
}

func TestDiscoverObeysMaxDepth(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	analyzer := newGraphAnalyzer(map[models.Address][]models.Address{
		a: {b},
		b: {c},
	})
	cfg := &models.StructureConfig{Name: "t", Chain: "ethereum", InitialAddresses: []models.Address{a}, MaxAddresses: 10, MaxDepth: 1}

	engine := New(analyzer, zerolog.Nop())
	results, err := engine.Discover(context.Background(), chain.NewFakeProvider(), cfg)
	require.NoError(t, err)

	addrs := map[models.Address]bool{}
	for _, r := range results {
		addrs[r.Address] = true
	}
	require.True(t, addrs[a])
	require.True(t, addrs[b])
	require.False(t, addrs[c]) // depth 2, beyond maxDepth=1
}

func TestDiscoverObeysMaxAddressesCap(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	analyzer := newGraphAnalyzer(map[models.Address][]models.Address{
		a: {b, c},
	})
	cfg := &models.StructureConfig{Name: "t", Chain: "ethereum", InitialAddresses: []models.Address{a}, MaxAddresses: 2, MaxDepth: models.NoMaxDepth}

	engine := New(analyzer, zerolog.Nop())
	results, err := engine.Discover(context.Background(), chain.NewFakeProvider(), cfg)
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 2)
}

func TestDiscoverAnalyzesEachAddressOnlyOnce(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	// b and c both point to a shared relative d, which both discover at the
	// same level, to exercise within-level dedup.
	d := addr(4)
	analyzer := newGraphAnalyzer(map[models.Address][]models.Address{
		a: {b, c},
		b: {d},
		c: {d},
	})
	cfg := &models.StructureConfig{Name: "t", Chain: "ethereum", InitialAddresses: []models.Address{a}, MaxAddresses: 10, MaxDepth: models.NoMaxDepth}

	engine := New(analyzer, zerolog.Nop())
	_, err := engine.Discover(context.Background(), chain.NewFakeProvider(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, analyzer.seen[d])
}
