package handlers

import (
	"context"
	"encoding/json"

	"github.com/contractgraph/discovery/internal/models"
)

// arrayParams is the `array` handler's inputs: method, startIndex
// (default 0), optional length cap.
type arrayParams struct {
	Method     string `json:"method"`
	StartIndex uint64 `json:"startIndex,omitempty"`
	Length     *int   `json:"length,omitempty"`
}

// arrayIterationCap bounds how far we iterate when no length is supplied
// and the contract never reverts (a buggy or adversarial getter otherwise
// hangs one field's extraction forever).
const arrayIterationCap = 10_000

type arrayHandler struct{}

func (arrayHandler) Execute(ctx context.Context, in Input) (Output, error) {
	if in.ABI == nil {
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "array: no ABI resolved for this contract")
	}
	var p arrayParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "array: invalid params: "+err.Error())
	}

	method, ok := in.ABI.Methods[p.Method]
	if !ok {
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "array: method not found in ABI: "+p.Method)
	}

	limit := arrayIterationCap
	if p.Length != nil {
		limit = *p.Length
	}

	var items []models.ContractValue
	var relatives []models.Address
	for i := 0; i < limit; i++ {
		index := p.StartIndex + uint64(i)
		calldata, err := method.Inputs.Pack(indexArg(index))
		if err != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "array: encode index failed: "+err.Error())
		}
		selectorAndArgs := append(append([]byte{}, method.ID...), calldata...)

		raw, callErr := in.Provider.Call(ctx, in.Address, selectorAndArgs)
		if callErr != nil {
			break // revert: end of array
		}
		values, unpackErr := method.Outputs.Unpack(raw)
		if unpackErr != nil || len(values) == 0 {
			break
		}
		value, convErr := abiValueToContractValue(values[0])
		if convErr != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "array: "+convErr.Error())
		}
		items = append(items, value)
		relatives = append(relatives, relativesFromValue(value)...)
	}

	return Output{Value: models.NewListValue(items), Relatives: relatives}, nil
}

// indexArg wraps a numeric index as the sole Go value go-ethereum's
// abi.Arguments.Pack expects for a single uint256 input.
func indexArg(i uint64) interface{} {
	return newBigFromUint64(i)
}
