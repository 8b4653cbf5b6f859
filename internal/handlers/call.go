package handlers

import (
	"context"
	"encoding/json"

	"github.com/contractgraph/discovery/internal/models"
)

// callParams is the `call` handler's inputs: method (an ABI method name,
// or a raw 4-byte selector when no ABI is available), args, optional
// returnType override (when absent, the ABI's own output type drives
// decoding).
type callParams struct {
	Method     string            `json:"method"`
	Args       []json.RawMessage `json:"args,omitempty"`
	ReturnType string            `json:"returnType,omitempty"`
}

type callHandler struct{}

func (callHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p callParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: invalid params: "+err.Error())
	}

	if in.ABI == nil {
		if in.Signatures != nil && isSelector(p.Method) {
			return callBySelector(ctx, in, p)
		}
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "call: no ABI resolved for this contract")
	}

	method, ok := in.ABI.Methods[p.Method]
	if !ok {
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "call: method not found in ABI: "+p.Method)
	}

	args, err := decodeArgs(method, p.Args)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: "+err.Error())
	}

	calldata, err := in.ABI.Pack(p.Method, args...)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: encode failed: "+err.Error())
	}

	raw, err := in.Provider.Call(ctx, in.Address, calldata)
	if err != nil {
		return Output{}, err
	}

	values, err := method.Outputs.Unpack(raw)
	if err != nil || len(values) == 0 {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: decode failed")
	}

	value, err := abiValueToContractValue(values[0])
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: "+err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}
