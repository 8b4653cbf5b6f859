package handlers

import (
	"context"
	"sync"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/expr"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"golang.org/x/sync/errgroup"
)

// Executor dispatches every declared field concurrently, decodes per its
// handler kind, applies the optional `edit` transform, and folds the
// per-field relative-address candidates into one set.
type Executor struct {
	signatures *SignatureResolver
}

// ExecutorOption configures an Executor at construction.
type ExecutorOption func(*Executor)

// WithSignatureResolver enables the selector-fallback path of the `call`
// handler for contracts with no resolved ABI.
func WithSignatureResolver(r *SignatureResolver) ExecutorOption {
	return func(e *Executor) { e.signatures = r }
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is one contract's handler-execution outcome.
type Result struct {
	Values    map[string]models.ContractValue
	Errors    map[string]models.ErrorKind
	Relatives []models.Address
}

func (e *Executor) Execute(ctx context.Context, provider chain.Provider, address models.Address, contractABI *abi.ABI, constructorArgs []byte, config *models.StructureContract) Result {
	result := Result{
		Values: map[string]models.ContractValue{},
		Errors: map[string]models.ErrorKind{},
	}
	if config == nil || len(config.Fields) == 0 {
		return result
	}

	var mu sync.Mutex
	relativeSet := models.NewAddressSet()

	var handlerFields, copyFields []string
	for name, field := range config.Fields {
		if field.Handler != "" {
			handlerFields = append(handlerFields, name)
		} else if field.Copy != "" {
			copyFields = append(copyFields, name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range handlerFields {
		name := name
		field := config.Fields[name]
		g.Go(func() error {
			handler, err := Dispatch(field.Handler)
			if err != nil {
				mu.Lock()
				result.Errors[name] = models.ConfigError
				mu.Unlock()
				return nil
			}
			out, err := handler.Execute(gctx, Input{
				Provider:        provider,
				Address:         address,
				ABI:             contractABI,
				ConstructorArgs: constructorArgs,
				Signatures:      e.signatures,
				Params:          field.Params,
				FieldName:       name,
			})
			if err != nil {
				mu.Lock()
				result.Errors[name] = errorKindOf(err)
				mu.Unlock()
				return nil // a failing field never drops its siblings' values
			}

			value := out.Value
			if field.Edit != "" {
				edited, editErr := expr.Eval(field.Edit, value)
				if editErr != nil {
					mu.Lock()
					result.Errors[name] = models.HandlerError
					mu.Unlock()
					return nil
				}
				value = edited
			}

			mu.Lock()
			result.Values[name] = value
			if !contains(config.IgnoreRelatives, name) {
				for _, r := range out.Relatives {
					relativeSet.Add(r)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // handler failures are recorded per-field above, never propagated

	// copy fields run after every handler field has resolved, since a copy
	// can only reference an already-computed sibling value.
	for _, name := range copyFields {
		field := config.Fields[name]
		source, ok := result.Values[field.Copy]
		if !ok {
			result.Errors[name] = models.HandlerError
			continue
		}
		if field.Edit != "" {
			edited, err := expr.Eval(field.Edit, source)
			if err != nil {
				result.Errors[name] = models.HandlerError
				continue
			}
			source = edited
		}
		result.Values[name] = source
		if !contains(config.IgnoreRelatives, name) {
			for _, r := range relativesFromValue(source) {
				relativeSet.Add(r)
			}
		}
	}

	result.Relatives = relativeSet.Sorted()
	return result
}

func errorKindOf(err error) models.ErrorKind {
	var de *models.DiscoveryError
	if asDiscoveryError(err, &de) {
		return de.Kind
	}
	return models.HandlerError
}

func asDiscoveryError(err error, target **models.DiscoveryError) bool {
	for err != nil {
		if de, ok := err.(*models.DiscoveryError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
