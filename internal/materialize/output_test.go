package materialize

import (
	"encoding/json"
	"testing"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMarshalPreservesEntryOrderAndOmitsEOAOnlyFields(t *testing.T) {
	eoa := models.NewEOA(models.MustParseAddress("0x000000000000000000000000000000000000000b"), []string{"owner"})
	contract := models.NewContract(models.MustParseAddress("0x000000000000000000000000000000000000000a"))
	contract.Values["symbol"] = models.NewStringValue("TOK")

	raw, err := Marshal("demo", "ethereum", []models.Analysis{eoa, contract})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	entries := doc["entries"].([]interface{})
	require.Len(t, entries, 2)

	first := entries[0].(map[string]interface{})
	require.Equal(t, "0x000000000000000000000000000000000000000b", first["address"])
	require.Equal(t, "EOA", first["type"])
	_, hasValues := first["values"]
	require.False(t, hasValues)

	second := entries[1].(map[string]interface{})
	require.Equal(t, "Contract", second["type"])
	values := second["values"].(map[string]interface{})
	require.Equal(t, "TOK", values["symbol"])
}

func TestMarshalEncodesLargeIntegersAsDecimalStrings(t *testing.T) {
	contract := models.NewContract(models.MustParseAddress("0x000000000000000000000000000000000000000c"))
	big, err := uint256.FromDecimal("123456789012345678901234567890")
	require.NoError(t, err)
	contract.Values["totalSupply"] = models.NewIntValue(big)

	raw, err := Marshal("demo", "ethereum", []models.Analysis{contract})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"123456789012345678901234567890"`)
}
