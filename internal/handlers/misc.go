package handlers

import (
	"context"
	"encoding/json"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// --- hardcoded -------------------------------------------------------------

// hardcodedParams carries a literal value straight through, for fields that
// are a fixed annotation rather than a chain read (e.g. a known label).
type hardcodedParams struct {
	Value json.RawMessage `json:"value"`
}

type hardcodedHandler struct{}

func (hardcodedHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p hardcodedParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "hardcoded: invalid params: "+err.Error())
	}
	value, err := literalToContractValue(p.Value)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "hardcoded: "+err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}

func literalToContractValue(raw json.RawMessage) (models.ContractValue, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if addr, err := models.ParseAddress(asString); err == nil {
			return models.NewAddressValue(addr), nil
		}
		return models.NewStringValue(asString), nil
	}
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		return models.NewBoolValue(asBool), nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		n, convErr := uint256.FromDecimal(asNumber.String())
		if convErr != nil {
			return models.ContractValue{}, errInvalidLiteral
		}
		return models.NewIntValue(n), nil
	}
	return models.ContractValue{}, errInvalidLiteral
}

var errInvalidLiteral = &models.DiscoveryError{Kind: models.HandlerError, Source: "hardcoded", Message: "unsupported literal shape"}

// --- event-count -------------------------------------------------------------

// eventCountParams names the event signature to count (e.g.
// "Transfer(address,address,uint256)"); the topic0 hash is derived from it.
type eventCountParams struct {
	Event string `json:"event"`
}

type eventCountHandler struct{}

func (eventCountHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p eventCountParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "event-count: invalid params: "+err.Error())
	}
	topic := models.Hash(crypto.Keccak256Hash([]byte(p.Event)))
	logs, err := in.Provider.GetLogs(ctx, chain.LogFilter{
		Address: in.Address,
		Topics:  [][]models.Hash{{topic}},
	})
	if err != nil {
		return Output{}, err
	}
	return Output{Value: models.NewIntValueFromUint64(uint64(len(logs)))}, nil
}

// --- stateFromEvent ----------------------------------------------------------

// stateFromEventParams projects one indexed field from the most recent
// occurrence of a named event, for "current value last announced via an
// event" fields that have no dedicated storage slot or getter.
type stateFromEventParams struct {
	Event      string `json:"event"`
	TopicIndex *int   `json:"topicIndex,omitempty"` // which indexed topic (1-based, topic0 is the signature)
	ReturnType string `json:"returnType,omitempty"`
}

type stateFromEventHandler struct{}

func (stateFromEventHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p stateFromEventParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "stateFromEvent: invalid params: "+err.Error())
	}
	topic := models.Hash(crypto.Keccak256Hash([]byte(p.Event)))
	logs, err := in.Provider.GetLogs(ctx, chain.LogFilter{
		Address: in.Address,
		Topics:  [][]models.Hash{{topic}},
	})
	if err != nil {
		return Output{}, err
	}
	if len(logs) == 0 {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "stateFromEvent: no matching events")
	}
	latest := logs[len(logs)-1]

	topicIndex := 1
	if p.TopicIndex != nil {
		topicIndex = *p.TopicIndex
	}
	if topicIndex >= len(latest.Topics) {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "stateFromEvent: topicIndex out of range")
	}
	returnType := p.ReturnType
	if returnType == "" {
		returnType = "bytes32"
	}
	value, err := decodeWord([32]byte(latest.Topics[topicIndex]), returnType)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}

// --- arbitrumDAC -------------------------------------------------------------

// arbitrumDACHandler projects an Arbitrum Data Availability Committee's
// current keyset hash, the way stateFromEvent does, defaulting to the
// SequencerInbox's own keyset-lifecycle event so a template doesn't have to
// spell out the event name for the common case.
type arbitrumDACHandler struct{}

const defaultKeysetEvent = "SetValidKeyset(bytes32,bytes)"

func (arbitrumDACHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p stateFromEventParams
	if len(in.Params) > 0 {
		if err := json.Unmarshal(in.Params, &p); err != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "arbitrumDAC: invalid params: "+err.Error())
		}
	}
	if p.Event == "" {
		p.Event = defaultKeysetEvent
	}
	if p.ReturnType == "" {
		p.ReturnType = "bytes32"
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "arbitrumDAC: "+err.Error())
	}
	return stateFromEventHandler{}.Execute(ctx, Input{
		Provider:  in.Provider,
		Address:   in.Address,
		ABI:       in.ABI,
		Params:    raw,
		FieldName: in.FieldName,
	})
}

// --- constructorArgs ---------------------------------------------------------

// constructorArgsParams names one ABI-typed constructor input to decode out
// of the deployment calldata SourceCodeService retrieved alongside the
// verified source (Etherscan's ConstructorArguments field).
type constructorArgsParams struct {
	Index      int    `json:"index"`
	ReturnType string `json:"returnType,omitempty"`
}

type constructorArgsHandler struct{}

func (constructorArgsHandler) Execute(ctx context.Context, in Input) (Output, error) {
	if in.ABI == nil || in.ABI.Constructor.Inputs == nil {
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "constructorArgs: no constructor ABI resolved")
	}
	var p constructorArgsParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "constructorArgs: invalid params: "+err.Error())
	}
	if p.Index < 0 || p.Index >= len(in.ABI.Constructor.Inputs) {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "constructorArgs: index out of range")
	}
	if len(in.ConstructorArgs) == 0 {
		return Output{}, models.NewError(models.MissingAbi, in.FieldName, "constructorArgs: no constructor calldata available")
	}

	values, err := in.ABI.Constructor.Inputs.Unpack(in.ConstructorArgs)
	if err != nil || p.Index >= len(values) {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "constructorArgs: decode failed")
	}
	value, err := abiValueToContractValue(values[p.Index])
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "constructorArgs: "+err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}
