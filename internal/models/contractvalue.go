package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// ValueKind discriminates the ContractValue tagged union.
type ValueKind string

const (
	KindAddress ValueKind = "address"
	KindInt     ValueKind = "int"
	KindBool    ValueKind = "bool"
	KindBytes   ValueKind = "bytes"
	KindString  ValueKind = "string"
	KindList    ValueKind = "list"
	KindMap     ValueKind = "map"
)

// maxSafeJSONInt is 2^53-1, the largest integer a JSON number can represent
// without precision loss in most consumers.
const maxSafeJSONInt = (int64(1) << 53) - 1

// ContractValue is the recursive sum type produced by handlers. Exactly
// one of the typed fields is meaningful, selected by Kind.
type ContractValue struct {
	Kind ValueKind

	addr Address
	num  *uint256.Int
	b    bool
	byt  []byte
	str  string
	list []ContractValue
	mp   map[string]ContractValue
}

// Builders

func NewAddressValue(a Address) ContractValue { return ContractValue{Kind: KindAddress, addr: a} }

func NewIntValue(v *uint256.Int) ContractValue {
	if v == nil {
		v = uint256.NewInt(0)
	}
	return ContractValue{Kind: KindInt, num: v.Clone()}
}

func NewIntValueFromUint64(v uint64) ContractValue {
	return ContractValue{Kind: KindInt, num: uint256.NewInt(v)}
}

func NewBoolValue(v bool) ContractValue { return ContractValue{Kind: KindBool, b: v} }

func NewBytesValue(v []byte) ContractValue {
	cp := make([]byte, len(v))
	copy(cp, v)
	return ContractValue{Kind: KindBytes, byt: cp}
}

func NewStringValue(v string) ContractValue { return ContractValue{Kind: KindString, str: v} }

func NewListValue(items []ContractValue) ContractValue {
	return ContractValue{Kind: KindList, list: items}
}

func NewMapValue(m map[string]ContractValue) ContractValue {
	return ContractValue{Kind: KindMap, mp: m}
}

// Destructors. Each panics if Kind mismatches; callers must check Kind
// first.

func (v ContractValue) Address() Address {
	if v.Kind != KindAddress {
		panic(fmt.Sprintf("ContractValue: Address() on kind %s", v.Kind))
	}
	return v.addr
}

func (v ContractValue) Int() *uint256.Int {
	if v.Kind != KindInt {
		panic(fmt.Sprintf("ContractValue: Int() on kind %s", v.Kind))
	}
	return v.num
}

func (v ContractValue) Bool() bool {
	if v.Kind != KindBool {
		panic(fmt.Sprintf("ContractValue: Bool() on kind %s", v.Kind))
	}
	return v.b
}

func (v ContractValue) Bytes() []byte {
	if v.Kind != KindBytes {
		panic(fmt.Sprintf("ContractValue: Bytes() on kind %s", v.Kind))
	}
	return v.byt
}

func (v ContractValue) Str() string {
	if v.Kind != KindString {
		panic(fmt.Sprintf("ContractValue: Str() on kind %s", v.Kind))
	}
	return v.str
}

func (v ContractValue) List() []ContractValue {
	if v.Kind != KindList {
		panic(fmt.Sprintf("ContractValue: List() on kind %s", v.Kind))
	}
	return v.list
}

func (v ContractValue) Map() map[string]ContractValue {
	if v.Kind != KindMap {
		panic(fmt.Sprintf("ContractValue: Map() on kind %s", v.Kind))
	}
	return v.mp
}

// Addresses recursively collects every address-kind leaf reachable from v,
// including through lists and maps. Used by the relatives harvest.
func (v ContractValue) Addresses() []Address {
	var out []Address
	var walk func(ContractValue)
	walk = func(cv ContractValue) {
		switch cv.Kind {
		case KindAddress:
			out = append(out, cv.addr)
		case KindList:
			for _, item := range cv.list {
				walk(item)
			}
		case KindMap:
			keys := make([]string, 0, len(cv.mp))
			for k := range cv.mp {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(cv.mp[k])
			}
		}
	}
	walk(v)
	return out
}

// jsonValue implements the output encoding: integers above 2^53-1
// serialize as decimal strings (else a JSON number), bytes as 0x-hex,
// addresses as lowercase hex, lists/maps as arrays/objects with sorted keys.
func (v ContractValue) jsonValue() interface{} {
	switch v.Kind {
	case KindAddress:
		return v.addr.Hex()
	case KindInt:
		if v.num == nil {
			return 0
		}
		if v.num.IsUint64() && v.num.Uint64() <= uint64(maxSafeJSONInt) {
			return v.num.Uint64()
		}
		return v.num.Dec()
	case KindBool:
		return v.b
	case KindBytes:
		return "0x" + hex.EncodeToString(v.byt)
	case KindString:
		return v.str
	case KindList:
		items := make([]interface{}, len(v.list))
		for i, it := range v.list {
			items[i] = it.jsonValue()
		}
		return items
	case KindMap:
		keys := make([]string, 0, len(v.mp))
		for k := range v.mp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(v.mp))
		for _, k := range keys {
			out[k] = v.mp[k].jsonValue()
		}
		return out
	default:
		return nil
	}
}

func (v ContractValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.jsonValue())
}
