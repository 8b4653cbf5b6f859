package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/holiman/uint256"
)

// decodeWord interprets a raw 32-byte storage word per returnType: address,
// uint<N>, bool, bytes32, or string. "string" here means "the word itself, trimmed of trailing
// zero bytes, treated as ASCII" — the short-string packing layout Solidity
// uses for strings under 32 bytes; longer strings need their own storage
// layout and are out of scope for a single-word decode.
func decodeWord(word [32]byte, returnType string) (models.ContractValue, error) {
	switch {
	case returnType == "address":
		var a models.Address
		copy(a[:], word[12:32])
		return models.NewAddressValue(a), nil
	case returnType == "bool":
		return models.NewBoolValue(word[31] != 0), nil
	case returnType == "bytes32":
		return models.NewBytesValue(append([]byte(nil), word[:]...)), nil
	case returnType == "string":
		return models.NewStringValue(trimTrailingZeros(word[:])), nil
	case strings.HasPrefix(returnType, "uint"):
		masked := maskToBits(word, parseUintBits(returnType))
		return models.NewIntValue(uint256.NewInt(0).SetBytes(masked[:])), nil
	default:
		return models.ContractValue{}, fmt.Errorf("decodeWord: unsupported returnType %q", returnType)
	}
}

func trimTrailingZeros(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

// parseUintBits extracts N from "uintN"; defaults to 256 when absent
// ("uint" alone).
func parseUintBits(returnType string) int {
	suffix := strings.TrimPrefix(returnType, "uint")
	if suffix == "" {
		return 256
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 256
	}
	return n
}

// maskToBits zeroes every bit of word above the low bits wide field a
// declared uint<N> return type occupies. word is big-endian (word[31] is
// the least significant byte), so a neighboring packed value sharing the
// same slot lives in the high-order bytes/bits shiftWord's offset didn't
// reach, and must be masked off rather than decoded as part of the number.
func maskToBits(word [32]byte, bits int) [32]byte {
	if bits >= 256 {
		return word
	}
	if bits <= 0 {
		return [32]byte{}
	}
	keepBytes := bits / 8
	remBits := bits % 8
	out := word
	boundary := 32 - keepBytes
	if remBits == 0 {
		for i := 0; i < boundary; i++ {
			out[i] = 0
		}
		return out
	}
	for i := 0; i < boundary-1; i++ {
		out[i] = 0
	}
	out[boundary-1] &= byte(1<<uint(remBits) - 1)
	return out
}
