package handlers

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// decodeArgs converts the field's JSON-literal args into the Go values
// go-ethereum's abi.Pack expects, guided by the method's declared input
// types. Only scalar shapes (address, integers, bool, string, bytes) are
// supported; anything else is a HandlerError, not a panic.
func decodeArgs(method abi.Method, rawArgs []json.RawMessage) ([]interface{}, error) {
	if len(rawArgs) != len(method.Inputs) {
		return nil, fmt.Errorf("expected %d args for %s, got %d", len(method.Inputs), method.Name, len(rawArgs))
	}
	out := make([]interface{}, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := decodeOneArg(raw, method.Inputs[i].Type)
		if err != nil {
			return nil, fmt.Errorf("arg %d (%s): %w", i, method.Inputs[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeOneArg(raw json.RawMessage, t abi.Type) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		addr, err := models.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		return common.Address(addr), nil
	case abi.BoolTy:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case abi.StringTy:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case abi.BytesTy, abi.FixedBytesTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return decodeHexString(s)
	case abi.IntTy, abi.UintTy:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			n, ok := new(big.Int).SetString(s, 0)
			if !ok {
				return nil, fmt.Errorf("invalid integer literal %q", s)
			}
			return n, nil
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("unsupported ABI input type %s", t.String())
	}
}

func newBigFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func decodeHexString(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// abiValueToContractValue converts a value produced by abi.Arguments.Unpack
// into the models.ContractValue sum type, recursing into slices.
func abiValueToContractValue(v interface{}) (models.ContractValue, error) {
	switch val := v.(type) {
	case common.Address:
		return models.NewAddressValue(models.Address(val)), nil
	case bool:
		return models.NewBoolValue(val), nil
	case string:
		return models.NewStringValue(val), nil
	case []byte:
		return models.NewBytesValue(val), nil
	case *big.Int:
		n, overflow := uint256.FromBig(val)
		if overflow {
			return models.ContractValue{}, fmt.Errorf("integer overflow decoding ABI value")
		}
		return models.NewIntValue(n), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array || rv.Kind() == reflect.Slice {
		// []byte is handled above; fixed byte arrays (bytesN) land here.
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return models.NewBytesValue(b), nil
		}
		items := make([]models.ContractValue, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := abiValueToContractValue(rv.Index(i).Interface())
			if err != nil {
				return models.ContractValue{}, err
			}
			items[i] = item
		}
		return models.NewListValue(items), nil
	}

	return models.ContractValue{}, fmt.Errorf("unsupported decoded ABI value of type %T", v)
}
