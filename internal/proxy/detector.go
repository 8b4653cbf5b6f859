// Package proxy recognizes known proxy-contract storage layouts. Each
// detector reads one or two specific storage slots or makes one eth_call,
// decodes, and is done.
package proxy

import (
	"context"
	"math/big"
	"sync"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
)

// Result is what AddressAnalyzer step 2 (proxy detection) consumes.
type Result struct {
	ProxyType      models.ProxyKind // "" when immutable
	Implementation []models.Address
	Relatives      []models.Address
	Values         map[string]models.ContractValue
}

// slots are the well-known EIP-1967 storage positions: keccak256 of the
// canonical string minus 1, per the EIP.
var (
	implementationSlot = eip1967Slot("eip1967.proxy.implementation")
	beaconSlot         = eip1967Slot("eip1967.proxy.beacon")
	adminSlot          = eip1967Slot("eip1967.proxy.admin")
)

func eip1967Slot(label string) models.Hash {
	h := crypto.Keccak256([]byte(label))
	n := new(big.Int).SetBytes(h)
	n.Sub(n, big.NewInt(1))
	return models.HashFromBig(n)
}

// beaconImplementationSelector is the 4-byte selector of implementation()
// called against whatever address the beacon slot holds.
var beaconImplementationSelector = []byte{0x5c, 0x60, 0xda, 0x1b}

// masterCopySelector is GnosisSafe's legacy getter, exposed on Safe
// versions < 1.3.0 for the master copy address behind the proxy.
var masterCopySelector = []byte{0xa6, 0x19, 0x48, 0x6e}

// singletonSelector is the auto-generated getter for Safe's public
// `singleton` storage variable, exposed by EIP-1967-compatible Safe
// deployments (Safe >= 1.3.0) that store their singleton at the standard
// EIP-1967 implementation slot instead of slot 0.
var singletonSelector = []byte{0xb6, 0x26, 0x54, 0xfb}

// Detector recognizes proxy layouts. Results are cached per (address,
// block) since storage contents at a pinned block are immutable for the
// lifetime of one discovery run. The cache is guarded by a mutex: one
// Detector is shared by every concurrently running address analysis.
type Detector struct {
	provider chain.Provider
	mu       sync.Mutex
	cache    map[cacheKey]*Result
}

type cacheKey struct {
	addr  models.Address
	block uint64
}

func NewDetector(provider chain.Provider) *Detector {
	return &Detector{provider: provider, cache: map[cacheKey]*Result{}}
}

// Detect runs the fixed-priority auto-detection chain, unless override is
// non-empty, in which case only that detector runs.
func (d *Detector) Detect(ctx context.Context, address models.Address, override models.ProxyKind) (*Result, error) {
	block, err := d.provider.GetBlock(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey{addr: address, block: block}
	d.mu.Lock()
	if cached, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	var result *Result
	if override != "" {
		result, err = d.runOne(ctx, address, override)
	} else {
		result, err = d.runAuto(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[key] = result
	d.mu.Unlock()
	return result, nil
}

func (d *Detector) runOne(ctx context.Context, address models.Address, kind models.ProxyKind) (*Result, error) {
	switch kind {
	case models.ProxyEIP1967Transparent, models.ProxyUUPS:
		return d.detectImplementationSlot(ctx, address, kind)
	case models.ProxyEIP1967Beacon:
		return d.detectBeacon(ctx, address)
	case models.ProxyGnosisSafe:
		return d.detectGnosisSafe(ctx, address)
	case models.ProxyImmutable:
		return &Result{Values: map[string]models.ContractValue{}}, nil
	default:
		return nil, models.NewError(models.ConfigError, "proxy", "unknown override proxyType: "+string(kind))
	}
}

// runAuto tries each detector in a fixed priority order: beacon, then
// implementation-slot (EIP-1967-compatible Safe, else transparent vs UUPS
// distinguished by whether an admin slot is set), then legacy Gnosis Safe,
// defaulting to immutable.
func (d *Detector) runAuto(ctx context.Context, address models.Address) (*Result, error) {
	if r, err := d.detectBeacon(ctx, address); err != nil {
		return nil, err
	} else if r.ProxyType != "" {
		return r, nil
	}

	implSlotValue, err := d.provider.GetStorage(ctx, address, implementationSlot)
	if err != nil {
		return nil, err
	}
	if !implSlotValue.IsZero() {
		impl := implSlotValue.AsAddress()
		safe, err := d.confirmSafeSingleton(ctx, impl)
		if err != nil {
			return nil, err
		}
		if safe != nil {
			return safe, nil
		}

		adminSlotValue, err := d.provider.GetStorage(ctx, address, adminSlot)
		if err != nil {
			return nil, err
		}
		kind := models.ProxyUUPS
		if !adminSlotValue.IsZero() {
			kind = models.ProxyEIP1967Transparent
		}
		return d.detectImplementationSlot(ctx, address, kind)
	}

	if r, err := d.detectGnosisSafeLegacy(ctx, address); err != nil {
		return nil, err
	} else if r.ProxyType != "" {
		return r, nil
	}

	return &Result{Values: map[string]models.ContractValue{}}, nil
}

func (d *Detector) detectImplementationSlot(ctx context.Context, address models.Address, kind models.ProxyKind) (*Result, error) {
	slotValue, err := d.provider.GetStorage(ctx, address, implementationSlot)
	if err != nil {
		return nil, err
	}
	if slotValue.IsZero() {
		return &Result{Values: map[string]models.ContractValue{}}, nil
	}
	impl := slotValue.AsAddress()
	return &Result{
		ProxyType:      kind,
		Implementation: []models.Address{impl},
		Relatives:      []models.Address{impl},
		Values: map[string]models.ContractValue{
			"implementation": models.NewAddressValue(impl),
		},
	}, nil
}

func (d *Detector) detectBeacon(ctx context.Context, address models.Address) (*Result, error) {
	slotValue, err := d.provider.GetStorage(ctx, address, beaconSlot)
	if err != nil {
		return nil, err
	}
	if slotValue.IsZero() {
		return &Result{Values: map[string]models.ContractValue{}}, nil
	}
	beacon := slotValue.AsAddress()
	implBytes, err := d.provider.Call(ctx, beacon, beaconImplementationSelector)
	if err != nil || len(implBytes) < 32 {
		// beacon slot set but beacon doesn't answer implementation(): not a
		// usable beacon proxy after all.
		return &Result{Values: map[string]models.ContractValue{}}, nil
	}
	impl := addressFromWord(implBytes[len(implBytes)-32:])
	return &Result{
		ProxyType:      models.ProxyEIP1967Beacon,
		Implementation: []models.Address{impl},
		Relatives:      []models.Address{beacon, impl},
		Values: map[string]models.ContractValue{
			"beacon":         models.NewAddressValue(beacon),
			"implementation": models.NewAddressValue(impl),
		},
	}, nil
}

// detectGnosisSafe runs both recognized Safe layouts in order: the
// EIP-1967-compatible singleton slot first, then the legacy slot-0
// master-copy layout, so an explicit `proxyType: GnosisSafe` override still
// matches whichever generation of Safe the contract actually is.
func (d *Detector) detectGnosisSafe(ctx context.Context, address models.Address) (*Result, error) {
	implSlotValue, err := d.provider.GetStorage(ctx, address, implementationSlot)
	if err != nil {
		return nil, err
	}
	if !implSlotValue.IsZero() {
		if r, err := d.confirmSafeSingleton(ctx, implSlotValue.AsAddress()); err != nil {
			return nil, err
		} else if r != nil {
			return r, nil
		}
	}
	return d.detectGnosisSafeLegacy(ctx, address)
}

// confirmSafeSingleton checks whether impl — read from the EIP-1967
// implementation slot — is a Safe >= 1.3.0 singleton, by calling its
// auto-generated `singleton()` getter and requiring it answer with its own
// address (Safe's singleton contract stores its own address in that slot).
// Returns (nil, nil) when impl doesn't answer as a Safe singleton, letting
// the caller fall through to ordinary EIP-1967/UUPS classification.
func (d *Detector) confirmSafeSingleton(ctx context.Context, impl models.Address) (*Result, error) {
	ret, err := d.provider.Call(ctx, impl, singletonSelector)
	if err != nil || len(ret) < 32 || addressFromWord(ret[len(ret)-32:]) != impl {
		return nil, nil
	}
	return &Result{
		ProxyType:      models.ProxyGnosisSafe,
		Implementation: []models.Address{impl},
		Relatives:      []models.Address{impl},
		Values: map[string]models.ContractValue{
			"singleton": models.NewAddressValue(impl),
		},
	}, nil
}

// detectGnosisSafeLegacy recognizes the pre-1.3.0 Safe layout: proxies store
// the singleton address directly at storage slot 0, with no EIP-1967 slot
// involved, and the singleton answers the legacy masterCopy() getter.
func (d *Detector) detectGnosisSafeLegacy(ctx context.Context, address models.Address) (*Result, error) {
	slot0, err := d.provider.GetStorage(ctx, address, models.Hash{})
	if err != nil {
		return nil, err
	}
	singleton := slot0.AsAddress()
	if singleton.IsZero() {
		return &Result{Values: map[string]models.ContractValue{}}, nil
	}

	// Confirm it is actually Safe-shaped: the singleton must itself expose
	// masterCopy() returning its own address (Safe's self-referential
	// getter), distinguishing a real Safe singleton from an unrelated
	// contract that merely happens to have a nonzero slot 0.
	ret, callErr := d.provider.Call(ctx, singleton, masterCopySelector)
	if callErr != nil || len(ret) < 32 || addressFromWord(ret[len(ret)-32:]) != singleton {
		return &Result{Values: map[string]models.ContractValue{}}, nil
	}

	return &Result{
		ProxyType:      models.ProxyGnosisSafe,
		Implementation: []models.Address{singleton},
		Relatives:      []models.Address{singleton},
		Values: map[string]models.ContractValue{
			"singleton": models.NewAddressValue(singleton),
		},
	}, nil
}

func addressFromWord(word []byte) models.Address {
	var a models.Address
	copy(a[:], word[12:32])
	return a
}
