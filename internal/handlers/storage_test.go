package handlers

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestDeriveMappingSlotMatchesKeccakFormula(t *testing.T) {
	addrKey, _ := json.Marshal("0x00000000000000000000000000000000000000aa")
	slot, err := DeriveMappingSlot(3, []json.RawMessage{addrKey})
	require.NoError(t, err)

	var word [32]byte
	addr := models.MustParseAddress("0x00000000000000000000000000000000000000aa")
	copy(word[12:], addr[:])
	base := make([]byte, 32)
	base[31] = 3
	want := crypto.Keccak256(append(append([]byte(nil), word[:]...), base...))

	require.Equal(t, want, slot.Bytes())
}

func TestDeriveMappingSlotNestsKeysInnermostFirst(t *testing.T) {
	k0, _ := json.Marshal("1")
	k1, _ := json.Marshal("2")
	slot, err := DeriveMappingSlot(0, []json.RawMessage{k0, k1})
	require.NoError(t, err)

	var w0, w1 [32]byte
	w0[31] = 1
	w1[31] = 2
	base := make([]byte, 32)
	inner := crypto.Keccak256(append(append([]byte(nil), w0[:]...), base...))
	outer := crypto.Keccak256(append(append([]byte(nil), w1[:]...), inner...))

	require.Equal(t, outer, slot.Bytes())
}

func TestStorageHandlerDecodesMappingValueFromProvider(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x000000000000000000000000000000000000000a")
	key, _ := json.Marshal("0x000000000000000000000000000000000000bb")
	slot, err := DeriveMappingSlot(0, []json.RawMessage{key})
	require.NoError(t, err)

	holder := models.MustParseAddress("0x0000000000000000000000000000000000001234")
	var slotValue models.Hash
	copy(slotValue[12:], holder[:])
	provider.SetStorage(addr, slot, slotValue)

	params, _ := json.Marshal(map[string]interface{}{
		"keys":       []string{"0x000000000000000000000000000000000000bb"},
		"returnType": "address",
	})

	h, err := Dispatch(KindStorage)
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), Input{
		Provider:  provider,
		Address:   addr,
		Params:    params,
		FieldName: "balanceHolder",
	})
	require.NoError(t, err)
	require.Equal(t, holder, out.Value.Address())
}

func TestStorageHandlerAppliesByteOffsetForPackedSlot(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x000000000000000000000000000000000000000b")
	var packed models.Hash
	packed[31] = 0xAA // field at offset 0
	packed[30] = 0xBB // field at offset 1, the one under test
	packed[29] = 0xCC // a third field packed above it in the same slot
	provider.SetStorage(addr, models.HashFromBig(bigZero()), packed)

	params, _ := json.Marshal(map[string]interface{}{
		"slot":       0,
		"returnType": "uint8",
		"offset":     1,
	})

	h, err := Dispatch(KindStorage)
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), Input{
		Provider:  provider,
		Address:   addr,
		Params:    params,
		FieldName: "packedField",
	})
	require.NoError(t, err)
	// shiftWord brings packed[29] (the neighboring field above) down into
	// the word too; without masking to the declared uint8 width the result
	// would be 0xCCBB instead of the field's own 0xBB.
	require.Equal(t, uint64(0xBB), out.Value.Int().Uint64())
}

func TestMaskToBitsZeroesBitsAboveDeclaredWidth(t *testing.T) {
	var word [32]byte
	word[31] = 0xB5 // 0b1011_0101: low nibble 0x5, high nibble 0xB

	masked := maskToBits(word, 4)
	require.Equal(t, byte(0x05), masked[31])

	full := maskToBits(word, 8)
	require.Equal(t, byte(0xB5), full[31])
}

func bigZero() *big.Int { return big.NewInt(0) }
