package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contractgraph/discovery/internal/cache"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// SignatureResolver looks up a human-readable function signature for a
// 4-byte selector via 4byte.directory. It exists so a `call` field can name
// a method by raw selector when no ABI was resolved for the contract,
// instead of failing outright with MissingAbi.
type SignatureResolver struct {
	httpClient *http.Client
	baseURL    string
	cache      *cache.Cache
}

const defaultFourByteURL = "https://www.4byte.directory/api/v1/signatures/"

func NewSignatureResolver(c *cache.Cache) *SignatureResolver {
	return &SignatureResolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultFourByteURL,
		cache:      c,
	}
}

type fourByteSignature struct {
	TextSignature string `json:"text_signature"`
}

type fourByteResponse struct {
	Results []fourByteSignature `json:"results"`
}

const signatureCachePartition = "4byte"

// ResolveFunctionSignature returns the most common text signature
// 4byte.directory has on file for a selector such as "0x70a08231", caching
// results permanently since a selector's known signatures only grow, never
// change retroactively.
func (r *SignatureResolver) ResolveFunctionSignature(ctx context.Context, hexSelector string) (string, error) {
	if cached, err := r.cache.Get(ctx, "", hexSelector, signatureCachePartition); err == nil {
		return string(cached), nil
	}

	params := url.Values{}
	params.Set("hex_signature", hexSelector)
	reqURL := r.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", models.WrapError(models.ProviderError, "signature", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", models.WrapError(models.ProviderError, "signature", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("4byte.directory returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.WrapError(models.ProviderError, "signature", err)
	}
	var parsed fourByteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", models.WrapError(models.ProviderError, "signature", err)
	}
	if len(parsed.Results) == 0 {
		return "", fmt.Errorf("no signatures found for %s", hexSelector)
	}

	signature := parsed.Results[0].TextSignature
	_ = r.cache.Set(ctx, hexSelector, signatureCachePartition, []byte(signature), cache.Permanent)
	return signature, nil
}

// isSelector reports whether method names a raw 4-byte selector
// ("0x" + 8 hex chars) rather than an ABI method name.
func isSelector(method string) bool {
	if len(method) != 10 || !strings.HasPrefix(method, "0x") {
		return false
	}
	_, err := hex.DecodeString(method[2:])
	return err == nil
}

// parseTextSignature splits a canonical text signature such as
// "transfer(address,uint256)" into its name and typed inputs. Tuple
// parameters are not supported; 4byte.directory signatures for the getters
// discovery calls are flat.
func parseTextSignature(sig string) (string, abi.Arguments, error) {
	open := strings.Index(sig, "(")
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, fmt.Errorf("malformed signature %q", sig)
	}
	name := sig[:open]
	inner := sig[open+1 : len(sig)-1]
	var inputs abi.Arguments
	if inner != "" {
		for _, t := range strings.Split(inner, ",") {
			typ, err := abi.NewType(strings.TrimSpace(t), "", nil)
			if err != nil {
				return "", nil, fmt.Errorf("signature %q: %w", sig, err)
			}
			inputs = append(inputs, abi.Argument{Type: typ})
		}
	}
	return name, inputs, nil
}

// callBySelector is the `call` handler's no-ABI fallback: resolve the
// selector to a text signature, ABI-encode the declared args against it,
// and decode the first returned word per the field's returnType.
func callBySelector(ctx context.Context, in Input, p callParams) (Output, error) {
	sig, err := in.Signatures.ResolveFunctionSignature(ctx, p.Method)
	if err != nil {
		return Output{}, models.WrapError(models.MissingAbi, in.FieldName, err)
	}
	name, inputs, err := parseTextSignature(sig)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: "+err.Error())
	}
	method := abi.NewMethod(name, name, abi.Function, "view", false, false, inputs, nil)

	args, err := decodeArgs(method, p.Args)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: "+err.Error())
	}
	encoded, err := method.Inputs.Pack(args...)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: encode failed: "+err.Error())
	}
	calldata := append(append([]byte{}, method.ID...), encoded...)

	raw, err := in.Provider.Call(ctx, in.Address, calldata)
	if err != nil {
		return Output{}, err
	}
	if len(raw) < 32 {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, "call: short return data")
	}
	returnType := p.ReturnType
	if returnType == "" {
		returnType = "bytes32"
	}
	value, err := decodeWord([32]byte(raw[:32]), returnType)
	if err != nil {
		return Output{}, models.NewError(models.HandlerError, in.FieldName, err.Error())
	}
	return Output{Value: value, Relatives: relativesFromValue(value)}, nil
}
