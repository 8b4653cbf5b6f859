// Package analyzer orchestrates the per-address analysis sequence:
// classify, detect proxy, fetch source, pick a template, merge overrides,
// run handlers, compute relatives. Each address produces one Analysis
// record.
package analyzer

import (
	"context"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/handlers"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/contractgraph/discovery/internal/proxy"
	"github.com/contractgraph/discovery/internal/sourcecode"
	"github.com/contractgraph/discovery/internal/template"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/rs/zerolog"
)

// Analyzer runs the per-address analysis sequence.
type Analyzer struct {
	proxyDetector *proxy.Detector
	sourceService sourcecode.Service
	templates     *template.Service
	executor      *handlers.Executor
	config        *models.StructureConfig
	log           zerolog.Logger
}

// Option configures an Analyzer at construction.
type Option func(*Analyzer)

// WithSignatureResolver lets `call` fields fall back to 4byte.directory
// selector lookup on contracts with no resolved ABI.
func WithSignatureResolver(r *handlers.SignatureResolver) Option {
	return func(a *Analyzer) {
		a.executor = handlers.NewExecutor(handlers.WithSignatureResolver(r))
	}
}

func New(proxyDetector *proxy.Detector, sourceService sourcecode.Service, templates *template.Service, config *models.StructureConfig, log zerolog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		proxyDetector: proxyDetector,
		sourceService: sourceService,
		templates:     templates,
		executor:      handlers.NewExecutor(),
		config:        config,
		log:           log.With().Str("component", "analyzer").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze produces the Analysis record for one address.
func (a *Analyzer) Analyze(ctx context.Context, provider chain.Provider, address models.Address, hints models.TemplateHints, depth int) (models.Analysis, error) {
	log := a.log.With().Str("address", address.Hex()).Logger()

	// 1. Classification.
	code, err := provider.GetCode(ctx, address)
	if err != nil {
		return models.Analysis{}, err
	}
	if len(code) == 0 {
		return models.NewEOA(address, nil), nil
	}

	override := a.config.Overrides[address]

	// 2. Proxy detection.
	var overrideProxyType models.ProxyKind
	if override != nil && override.HasProxyType() {
		overrideProxyType = override.ProxyType
	}
	proxyResult, err := a.proxyDetector.Detect(ctx, address, overrideProxyType)
	if err != nil {
		return models.Analysis{}, err
	}

	// 3. Source fetch. Missing source is non-fatal.
	sourceResult, err := a.sourceService.Fetch(ctx, address, proxyResult.Implementation)
	if err != nil {
		return models.Analysis{}, err
	}

	sourceHashes := make([]models.SourceHash, len(sourceResult.SourceHashes))
	for i, h := range sourceResult.SourceHashes {
		sourceHashes[i] = models.SourceHash(h.Hex())
	}

	// 4. Template selection + override merge.
	var matched *models.Template
	if a.templates != nil {
		matched, _ = a.templates.FindMatching(sourceHashes, address, a.config.Chain, hints)
	}
	var templateConfig *models.StructureContract
	if matched != nil {
		templateConfig = matched.Config
	}
	effectiveConfig := template.Merge(templateConfig, override)

	contract := models.NewContract(address)
	contract.Name = contractName(sourceResult, proxyResult, matched)
	contract.ProxyType = proxyResult.ProxyType
	contract.Implementations = proxyResult.Implementation
	contract.SourceHashes = sourceHashes
	if matched != nil {
		contract.TemplateID = matched.ID
	}
	contract.IgnoreInWatchMode = effectiveConfig.IgnoreInWatchMode

	// 5. Ignore gate.
	if effectiveConfig.IgnoreDiscovery {
		log.Debug().Msg("ignoreDiscovery set, skipping handler execution")
		return contract, nil
	}

	// 6. Handler execution. Proxy-derived values (implementation, beacon,
	// singleton) land in the same map; a handler field of the same name wins.
	for k, v := range proxyResult.Values {
		contract.Values[k] = v
	}
	var contractABI *abi.ABI
	layerIndex := implementationLayerIndex(proxyResult)
	if resolved, ok := sourceResult.ABI[layerIndex]; ok {
		contractABI = resolved
	}
	ctorArgs := sourceResult.ConstructorArgs[layerIndex]
	result := a.executor.Execute(ctx, provider, address, contractABI, ctorArgs, effectiveConfig)
	for k, v := range result.Values {
		contract.Values[k] = v
	}
	for k, v := range result.Errors {
		contract.Errors[k] = v
	}

	// 7. Relatives computation: union of proxy relatives, handler relatives
	// (already pruned of any field named in ignoreRelatives), and
	// implementations, minus the address itself.
	relatives := models.NewAddressSet(proxyResult.Relatives...)
	for _, r := range result.Relatives {
		relatives.Add(r)
	}
	for _, r := range proxyResult.Implementation {
		relatives.Add(r)
	}
	relatives.Remove(address)
	contract.Relatives = relatives

	return contract, nil
}

// implementationLayerIndex picks which fetched-source layer a handler's ABI
// and constructor calldata come from: the proxy shell itself (layer 0) when
// there's no implementation, or the first implementation layer (index 1)
// when the contract proxies — handlers read the implementation's ABI since
// that's where the logic (and therefore the method set) lives.
func implementationLayerIndex(proxyResult *proxy.Result) int {
	if len(proxyResult.Implementation) > 0 {
		return 1
	}
	return 0
}

// contractName prefers the verified name of the layer whose logic the
// contract runs (the implementation for proxies, itself otherwise), falling
// back to the matched template's id when no layer is verified.
func contractName(source *sourcecode.Result, proxyResult *proxy.Result, matched *models.Template) string {
	if n := source.Names[implementationLayerIndex(proxyResult)]; n != "" {
		return n
	}
	if n := source.Names[0]; n != "" {
		return n
	}
	if matched != nil {
		return matched.ID
	}
	return ""
}
