package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address is a 20-byte EVM account identifier. The zero value is the null
// address. Equality is byte-equality; the canonical form for map keys and
// output is lowercase hex ("0x" + 40 hex chars).
type Address [20]byte

// ParseAddress parses a "0x"-prefixed (or bare) 40-hex-char string into an
// Address. It is case-insensitive and does not verify EIP-55 checksums.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return a, fmt.Errorf("address %q: want 40 hex chars, got %d", s, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress but panics on error; for constants/tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the canonical lowercase-hex form, "0x" + 40 hex chars.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// IsZero reports whether this is the null address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Checksum returns the EIP-55 mixed-case checksummed form. Display only;
// never used for map keys, equality, or the output artifact.
func (a Address) Checksum() string {
	unchecksummed := hex.EncodeToString(a[:])
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(unchecksummed))
	hashed := hash.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := unchecksummed[i]
		if c >= 'a' && c <= 'f' {
			// nibble i's corresponding hash nibble
			var hashByte byte
			if i%2 == 0 {
				hashByte = hashed[i/2] >> 4
			} else {
				hashByte = hashed[i/2] & 0x0f
			}
			if hashByte >= 8 {
				c -= 'a' - 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText/UnmarshalText let Address be used as a JSON object key (e.g.
// StructureConfig.Overrides), which encoding/json requires TextMarshaler
// for on non-string key types.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressSet is a deduplicated, sortable set of addresses.
type AddressSet map[Address]struct{}

func NewAddressSet(addrs ...Address) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s AddressSet) Add(a Address)      { s[a] = struct{}{} }
func (s AddressSet) Has(a Address) bool { _, ok := s[a]; return ok }
func (s AddressSet) Remove(a Address)   { delete(s, a) }
func (s AddressSet) Len() int           { return len(s) }

// Sorted returns the set's members in ascending byte order.
func (s AddressSet) Sorted() []Address {
	out := make([]Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}
