package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/contractgraph/discovery/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// jsonRPCRequest/jsonRPCResponse are the JSON-RPC 2.0 envelope.
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// JSONRPCProvider implements Provider against a single JSON-RPC endpoint,
// pinned to one block number for the lifetime of the run. The
// bounded-parallelism gate across all outstanding requests lives here as a
// semaphore.Weighted.
//
// block is an atomic.Uint64 rather than a plain field: the Provider is
// shared, and the engine's per-level fan-out calls GetBlock concurrently
// (via proxy detection), racing its lazy resolve-and-cache with every
// other method's blockTag(p.block) read.
type JSONRPCProvider struct {
	httpClient *http.Client
	rpcURL     string
	block      atomic.Uint64
	sem        *semaphore.Weighted
	log        zerolog.Logger
}

// NewJSONRPCProvider constructs a Provider pinned to the chain's current
// block (or to pinnedBlock if non-zero), gated by concurrency outstanding
// requests.
func NewJSONRPCProvider(rpcURL string, concurrency int, pinnedBlock uint64, log zerolog.Logger) *JSONRPCProvider {
	if concurrency <= 0 {
		concurrency = models.DefaultConcurrency
	}
	p := &JSONRPCProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		rpcURL:     rpcURL,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		log:        log.With().Str("component", "provider").Logger(),
	}
	p.block.Store(pinnedBlock)
	return p
}

func (p *JSONRPCProvider) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, models.WrapError(models.ProviderError, method, err)
	}
	defer p.sem.Release(1)

	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, models.WrapError(models.Internal, method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapError(models.ProviderError, method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.WrapError(models.ProviderError, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapError(models.ProviderError, method, err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, models.WrapError(models.ProviderError, method, fmt.Errorf("unmarshal response: %w", err))
	}
	if rpcResp.Error != nil {
		return nil, models.NewError(models.ProviderError, method, fmt.Sprintf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	return rpcResp.Result, nil
}

func blockTag(block uint64) string {
	if block == 0 {
		return "latest"
	}
	return "0x" + strconv.FormatUint(block, 16)
}

func (p *JSONRPCProvider) GetCode(ctx context.Context, addr models.Address) ([]byte, error) {
	var result string
	raw, err := p.call(ctx, "eth_getCode", []interface{}{addr.Hex(), blockTag(p.block.Load())})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, models.WrapError(models.ProviderError, "eth_getCode", err)
	}
	return decodeHexBytes(result)
}

func (p *JSONRPCProvider) GetStorage(ctx context.Context, addr models.Address, slot models.Hash) (models.Hash, error) {
	var result string
	raw, err := p.call(ctx, "eth_getStorageAt", []interface{}{addr.Hex(), slot.Hex(), blockTag(p.block.Load())})
	if err != nil {
		return models.Hash{}, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.Hash{}, models.WrapError(models.ProviderError, "eth_getStorageAt", err)
	}
	return models.ParseHash(result)
}

func (p *JSONRPCProvider) Call(ctx context.Context, addr models.Address, data []byte) ([]byte, error) {
	callObj := map[string]interface{}{
		"to":   addr.Hex(),
		"data": "0x" + hex.EncodeToString(data),
	}
	var result string
	raw, err := p.call(ctx, "eth_call", []interface{}{callObj, blockTag(p.block.Load())})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, models.WrapError(models.ProviderError, "eth_call", err)
	}
	return decodeHexBytes(result)
}

func (p *JSONRPCProvider) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	from := filter.FromBlock
	to := filter.ToBlock
	if to == 0 {
		to = p.block.Load()
	}
	rawFilter := map[string]interface{}{
		"address":   filter.Address.Hex(),
		"fromBlock": "0x" + strconv.FormatUint(from, 16),
		"toBlock":   blockTag(to),
	}
	if len(filter.Topics) > 0 {
		topics := make([]interface{}, len(filter.Topics))
		for i, group := range filter.Topics {
			if len(group) == 0 {
				topics[i] = nil
				continue
			}
			hexes := make([]string, len(group))
			for j, t := range group {
				hexes[j] = t.Hex()
			}
			topics[i] = hexes
		}
		rawFilter["topics"] = topics
	}

	var raw []struct {
		Address  string   `json:"address"`
		Topics   []string `json:"topics"`
		Data     string   `json:"data"`
		TxHash   string   `json:"transactionHash"`
		LogIndex string   `json:"logIndex"`
	}
	result, err := p.call(ctx, "eth_getLogs", []interface{}{rawFilter})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, models.WrapError(models.ProviderError, "eth_getLogs", err)
	}

	logs := make([]Log, 0, len(raw))
	for _, l := range raw {
		addr, err := models.ParseAddress(l.Address)
		if err != nil {
			continue
		}
		topics := make([]models.Hash, 0, len(l.Topics))
		for _, t := range l.Topics {
			h, err := models.ParseHash(t)
			if err != nil {
				continue
			}
			topics = append(topics, h)
		}
		data, _ := decodeHexBytes(l.Data)
		idx, _ := strconv.ParseUint(trimHex(l.LogIndex), 16, 64)
		logs = append(logs, Log{Address: addr, Topics: topics, Data: data, TxHash: l.TxHash, Index: idx})
	}
	return logs, nil
}

// GetBlock lazily resolves and pins the run's block number on first call
// (when constructed with pinnedBlock 0). Concurrent callers racing this lazy
// resolve — the BFS engine's per-level fan-out calls GetBlock on every
// ProxyDetector.Detect — settle on whichever eth_blockNumber response wins
// the compare-and-swap, so every subsequent call in the run observes the
// same pinned block rather than whichever response happened to return last.
func (p *JSONRPCProvider) GetBlock(ctx context.Context) (uint64, error) {
	if b := p.block.Load(); b != 0 {
		return b, nil
	}
	raw, err := p.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, models.WrapError(models.ProviderError, "eth_blockNumber", err)
	}
	n, err := strconv.ParseUint(trimHex(result), 16, 64)
	if err != nil {
		return 0, models.WrapError(models.ProviderError, "eth_blockNumber", err)
	}
	if !p.block.CompareAndSwap(0, n) {
		return p.block.Load(), nil
	}
	return n, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s[2:]
	}
	return s
}

func decodeHexBytes(s string) ([]byte, error) {
	s = trimHex(s)
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
