package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Hash is a 32-byte value: a storage slot, an event topic, or a source
// hash's raw bytes.
type Hash [32]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) > 64 {
		return h, fmt.Errorf("hash %q: too long", s)
	}
	// Left-pad, mirroring Solidity's 32-byte word semantics.
	s = strings.Repeat("0", 64-len(s)) + s
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HashFromBig left-pads a big.Int into a 32-byte word.
func HashFromBig(v *big.Int) Hash {
	var h Hash
	b := v.Bytes()
	copy(h[32-len(b):], b)
	return h
}

func (h Hash) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) Big() *big.Int  { return new(big.Int).SetBytes(h[:]) }
func (h Hash) IsZero() bool   { return h == Hash{} }
func (h Hash) Bytes() []byte  { return h[:] }

// AsAddress reinterprets the low 20 bytes of the word as an Address, the
// standard way Solidity stores an address in a 32-byte storage slot.
func (h Hash) AsAddress() Address {
	var a Address
	copy(a[:], h[12:])
	return a
}

func (h Hash) MarshalJSON() ([]byte, error) { return json.Marshal(h.Hex()) }

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
