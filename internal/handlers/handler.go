// Package handlers implements the closed set of per-field extractors:
// storage, call, array, accessControl, arbitrumDAC, stateFromEvent,
// event-count, hardcoded, constructorArgs. New handler kinds are
// compile-time additions to the switch in Dispatch, not plugins; each
// handler is a small, independently testable unit with no shared mutable
// state.
package handlers

import (
	"context"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Kind names the closed set of handler kinds a StructureContractField.Handler
// may declare.
const (
	KindStorage         = "storage"
	KindCall            = "call"
	KindArray           = "array"
	KindAccessControl   = "accessControl"
	KindArbitrumDAC     = "arbitrumDAC"
	KindStateFromEvent  = "stateFromEvent"
	KindEventCount      = "event-count"
	KindHardcoded       = "hardcoded"
	KindConstructorArgs = "constructorArgs"
)

// Input bundles everything a handler needs to produce one field's value.
// abi may be nil when no layer resolved an ABI; handlers that need it must
// fail with MissingAbi rather than panic.
type Input struct {
	Provider        chain.Provider
	Address         models.Address
	ABI             *abi.ABI
	ConstructorArgs []byte
	Signatures      *SignatureResolver // optional selector-to-signature fallback
	Params          []byte             // raw JSON, handler-specific
	FieldName       string
}

// Output is one field's extracted value plus any relative addresses it
// contributes to the contract's relatives set.
type Output struct {
	Value     models.ContractValue
	Relatives []models.Address
}

// Handler is the capability every handler kind implements. Handlers never
// depend on other handlers' outputs, only on Provider/ABI; `copy` fields
// are resolved by the Executor after all handlers settle.
type Handler interface {
	Execute(ctx context.Context, in Input) (Output, error)
}

// Dispatch resolves a handler kind string to its implementation. Handler
// kinds are not checked at config load; an unknown kind surfaces here as a
// ConfigError for that one field.
func Dispatch(kind string) (Handler, error) {
	switch kind {
	case KindStorage:
		return storageHandler{}, nil
	case KindCall:
		return callHandler{}, nil
	case KindArray:
		return arrayHandler{}, nil
	case KindAccessControl:
		return accessControlHandler{}, nil
	case KindArbitrumDAC:
		return arbitrumDACHandler{}, nil
	case KindStateFromEvent:
		return stateFromEventHandler{}, nil
	case KindEventCount:
		return eventCountHandler{}, nil
	case KindHardcoded:
		return hardcodedHandler{}, nil
	case KindConstructorArgs:
		return constructorArgsHandler{}, nil
	default:
		return nil, models.NewError(models.ConfigError, "handlers", "unknown handler kind: "+kind)
	}
}

// relativesFromValue walks a decoded ContractValue harvesting every address
// it contains, including through lists and maps.
func relativesFromValue(v models.ContractValue) []models.Address {
	return v.Addresses()
}
