package handlers

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// storageParams is the `storage` handler's declared inputs: slot (atom
// form), or baseSlot plus an ordered mapping-key list applied
// innermost-first (keys[0] nearest the base, matching Solidity's own
// nested-mapping derivation), plus returnType and a packed-slot byte
// offset.
type storageParams struct {
	Slot       *uint64           `json:"slot,omitempty"`
	BaseSlot   *uint64           `json:"baseSlot,omitempty"`
	Keys       []json.RawMessage `json:"keys,omitempty"`
	ReturnType string            `json:"returnType,omitempty"`
	Offset     *int              `json:"offset,omitempty"`
}

type storageHandler struct{}

func (storageHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p storageParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "storage: invalid params: "+err.Error())
	}

	var slot models.Hash
	switch {
	case len(p.Keys) > 0:
		base := uint64(0)
		if p.BaseSlot != nil {
			base = *p.BaseSlot
		}
		var err error
		slot, err = DeriveMappingSlot(base, p.Keys)
		if err != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "storage: "+err.Error())
		}
	case p.Slot != nil:
		slot = models.HashFromBig(new(big.Int).SetUint64(*p.Slot))
	default:
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "storage: missing slot")
	}

	raw, err := in.Provider.GetStorage(ctx, in.Address, slot)
	if err != nil {
		return Output{}, err
	}

	returnType := p.ReturnType
	if returnType == "" {
		returnType = "bytes32"
	}
	word := [32]byte(raw)
	if p.Offset != nil {
		word = shiftWord(word, *p.Offset)
	}
	value, err := decodeWord(word, returnType)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}

// shiftWord applies a byte offset within a packed storage word (Solidity
// packs multiple small values into one slot); offset counts bytes from the
// right (least significant), matching how solc packs declaration order.
func shiftWord(word [32]byte, offsetBytes int) [32]byte {
	if offsetBytes <= 0 || offsetBytes >= 32 {
		return word
	}
	var out [32]byte
	copy(out[offsetBytes:], word[:32-offsetBytes])
	return out
}

// DeriveMappingSlot implements Solidity's nested-mapping slot derivation:
// keccak256(pad32(kn) || ... || keccak256(pad32(k1) || keccak256(pad32(k0) ||
// pad32(baseSlot)))). keys are applied in order, keys[0] innermost.
func DeriveMappingSlot(baseSlot uint64, keys []json.RawMessage) (models.Hash, error) {
	acc := uint256.NewInt(baseSlot).Bytes32()
	for _, rawKey := range keys {
		keyWord, err := keyToWord(rawKey)
		if err != nil {
			return models.Hash{}, err
		}
		buf := make([]byte, 0, 64)
		buf = append(buf, keyWord[:]...)
		buf = append(buf, acc[:]...)
		sum := crypto.Keccak256(buf)
		copy(acc[:], sum)
	}
	var out models.Hash
	copy(out[:], acc[:])
	return out, nil
}

// keyToWord encodes one mapping key as a left-padded (address/int) or
// right-padded (bytes-as-string) 32-byte word, matching Solidity's ABI
// packing rules for mapping keys.
func keyToWord(raw json.RawMessage) ([32]byte, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if addr, err := models.ParseAddress(asString); err == nil {
			var w [32]byte
			copy(w[12:], addr[:])
			return w, nil
		}
		if n, err := uint256.FromDecimal(asString); err == nil {
			return n.Bytes32(), nil
		}
		var w [32]byte
		copy(w[:], []byte(asString))
		return w, nil
	}

	var asNumber uint64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return uint256.NewInt(asNumber).Bytes32(), nil
	}

	return [32]byte{}, errUnsupportedKey
}

var errUnsupportedKey = &models.DiscoveryError{Kind: models.HandlerError, Source: "storage", Message: "unsupported mapping key shape"}
