package handlers

import (
	"context"
	"testing"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/stretchr/testify/require"
)

func TestExecutorResolvesHandlerAndCopyFields(t *testing.T) {
	provider := chain.NewFakeProvider()
	address := models.MustParseAddress("0x0000000000000000000000000000000000000001")

	config := &models.StructureContract{
		Fields: map[string]*models.StructureContractField{
			"owner": {
				Handler: KindHardcoded,
				Params:  []byte(`{"handler":"hardcoded","value":"0x000000000000000000000000000000000000000a"}`),
			},
			"ownerUpper": {
				Copy: "owner",
				Edit: `(upper value)`,
			},
		},
	}

	result := NewExecutor().Execute(context.Background(), provider, address, nil, nil, config)

	require.Empty(t, result.Errors)
	require.Contains(t, result.Values, "owner")
	require.Contains(t, result.Values, "ownerUpper")
	require.Equal(t, "0X000000000000000000000000000000000000000A", result.Values["ownerUpper"].Str())
	require.Len(t, result.Relatives, 1)
}

func TestExecutorIsolatesPerFieldErrors(t *testing.T) {
	provider := chain.NewFakeProvider()
	address := models.MustParseAddress("0x0000000000000000000000000000000000000002")

	config := &models.StructureContract{
		Fields: map[string]*models.StructureContractField{
			"broken": {
				Handler: KindCall, // no ABI supplied, must fail without aborting "ok"
				Params:  []byte(`{"method":"foo","returnType":"uint256"}`),
			},
			"ok": {
				Handler: KindHardcoded,
				Params:  []byte(`{"handler":"hardcoded","value":true}`),
			},
		},
	}

	result := NewExecutor().Execute(context.Background(), provider, address, nil, nil, config)

	require.Contains(t, result.Errors, "broken")
	require.Equal(t, models.MissingAbi, result.Errors["broken"])
	require.Contains(t, result.Values, "ok")
	require.True(t, result.Values["ok"].Bool())
}

func TestExecutorIgnoresRelativesForExcludedField(t *testing.T) {
	provider := chain.NewFakeProvider()
	address := models.MustParseAddress("0x0000000000000000000000000000000000000003")

	config := &models.StructureContract{
		IgnoreRelatives: []string{"owner"},
		Fields: map[string]*models.StructureContractField{
			"owner": {
				Handler: KindHardcoded,
				Params:  []byte(`{"handler":"hardcoded","value":"0x000000000000000000000000000000000000000b"}`),
			},
		},
	}

	result := NewExecutor().Execute(context.Background(), provider, address, nil, nil, config)

	require.Empty(t, result.Relatives)
}
