// Package sourcecode resolves verified ABI and source text for an address
// and its implementation layers from an Etherscan-style block-explorer API
// (module=contract&action=getsourcecode).
package sourcecode

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contractgraph/discovery/internal/cache"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// Result is the value returned by Service.Fetch, matching SourceCodeService's
// fetch(address, [impl]) -> {abi, sources, sourceHashes} contract: index 0 is
// the address itself, index i>0 is implementations[i-1].
type Result struct {
	ABI             map[int]*abi.ABI // nil entry means "no parseable ABI at that layer"
	Sources         map[int]string
	Names           map[int]string // verified contract name per layer, when known
	SourceHashes    []models.Hash
	ConstructorArgs map[int][]byte // decoded from Etherscan's ConstructorArguments hex field
}

// Service is the consumed capability AddressAnalyzer calls during step 3
// (source fetch). A missing/unverified layer is not an error: handlers that
// need an ABI at that layer fail individually with MissingAbi.
type Service interface {
	Fetch(ctx context.Context, address models.Address, implementations []models.Address) (*Result, error)
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceCodeResult struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	ConstructorArguments string `json:"ConstructorArguments"`
}

const cachePartition = "sourcecode"

// EtherscanService implements Service against an Etherscan-v2-style API
// (module=contract&action=getsourcecode), caching every resolved layer
// permanently (verified bytecode/source never changes) and deduping
// concurrent fetches of the same address across goroutines with a
// redis-backed distributed lock when one is configured.
type EtherscanService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *cache.Cache
	locker     *cache.RedisConnector // optional; nil disables distributed locking
	log        zerolog.Logger
}

func NewEtherscanService(baseURL, apiKey string, c *cache.Cache, locker *cache.RedisConnector, log zerolog.Logger) *EtherscanService {
	return &EtherscanService{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cache:      c,
		locker:     locker,
		log:        log.With().Str("component", "sourcecode").Logger(),
	}
}

func (s *EtherscanService) Fetch(ctx context.Context, address models.Address, implementations []models.Address) (*Result, error) {
	layers := append([]models.Address{address}, implementations...)
	result := &Result{
		ABI:             map[int]*abi.ABI{},
		Sources:         map[int]string{},
		Names:           map[int]string{},
		SourceHashes:    make([]models.Hash, len(layers)),
		ConstructorArgs: map[int][]byte{},
	}

	for i, layer := range layers {
		entry, err := s.fetchLayer(ctx, layer)
		if err != nil {
			s.log.Debug().Err(err).Str("address", layer.Hex()).Msg("source fetch layer unresolved")
			continue // non-fatal: an unverified layer only fails handlers that need its ABI
		}
		abiJSON, src, ctorArgsHex := entry.ABI, entry.Source, entry.ConstructorArgs
		result.Sources[i] = src
		if entry.Name != "" {
			result.Names[i] = entry.Name
		}
		result.SourceHashes[i] = hashSource(src)
		if ctorArgsHex != "" {
			if b, err := hex.DecodeString(strings.TrimPrefix(ctorArgsHex, "0x")); err == nil {
				result.ConstructorArgs[i] = b
			}
		}
		if abiJSON == "" {
			continue
		}
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			s.log.Debug().Err(err).Str("address", layer.Hex()).Msg("abi parse failed")
			continue
		}
		result.ABI[i] = &parsed
	}
	return result, nil
}

// fetchLayer resolves one address's verified source through the permanent
// cache, falling back to a distributed lock + HTTP call on a miss so that
// concurrently analyzed addresses sharing an implementation don't all hit
// the explorer at once.
func (s *EtherscanService) fetchLayer(ctx context.Context, address models.Address) (*cachedEntry, error) {
	key := address.Hex()
	if cached, err := s.cache.Get(ctx, "", key, cachePartition); err == nil {
		var entry cachedEntry
		if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil {
			return &entry, nil
		}
	}

	if s.locker != nil {
		mutex := s.locker.Lock("sourcecode:"+key, 30*time.Second)
		if lockErr := mutex.LockContext(ctx); lockErr == nil {
			defer mutex.UnlockContext(ctx)
			// re-check cache now that we hold the lock: another goroutine may
			// have just populated it while we waited.
			if cached, err := s.cache.Get(ctx, "", key, cachePartition); err == nil {
				var entry cachedEntry
				if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil {
					return &entry, nil
				}
			}
		}
	}

	entry, err := s.fetchFromExplorer(ctx, address)
	if err != nil {
		return nil, err
	}

	if raw, marshalErr := json.Marshal(entry); marshalErr == nil {
		_ = s.cache.Set(ctx, key, cachePartition, raw, cache.Permanent)
	}
	return entry, nil
}

type cachedEntry struct {
	ABI             string `json:"abi"`
	Source          string `json:"source"`
	Name            string `json:"name,omitempty"`
	ConstructorArgs string `json:"constructorArgs,omitempty"`
}

func (s *EtherscanService) fetchFromExplorer(ctx context.Context, address models.Address) (*cachedEntry, error) {
	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", "getsourcecode")
	params.Set("address", address.Hex())
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, models.WrapError(models.ProviderError, "sourcecode", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ProviderError, "sourcecode", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapError(models.ProviderError, "sourcecode", err)
	}

	var parsed etherscanResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.WrapError(models.ProviderError, "sourcecode", err)
	}
	if parsed.Status != "1" {
		return nil, models.NewError(models.MissingAbi, "sourcecode", parsed.Message)
	}

	var results []sourceCodeResult
	if err := json.Unmarshal(parsed.Result, &results); err != nil || len(results) == 0 {
		return nil, models.NewError(models.MissingAbi, "sourcecode", "unexpected getsourcecode result shape")
	}
	r := results[0]
	if r.SourceCode == "" {
		return nil, models.NewError(models.MissingAbi, "sourcecode", "contract not verified")
	}
	return &cachedEntry{
		ABI:             r.ABI,
		Source:          r.SourceCode,
		Name:            r.ContractName,
		ConstructorArgs: r.ConstructorArguments,
	}, nil
}

// hashSource canonicalizes verified source text before hashing so that
// whitespace-only diffs across re-verifications of the same bytecode still
// produce a stable SourceHash for template matching.
func hashSource(source string) models.Hash {
	canonical := strings.Join(strings.Fields(source), " ")
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(canonical))
	var out models.Hash
	copy(out[:], h.Sum(nil))
	return out
}
