package chain

import (
	"context"
	"sync"

	"github.com/contractgraph/discovery/internal/models"
)

// FakeProvider is an in-memory Provider fixture for tests: a runnable
// stand-in chain whose code, storage, call returns, and logs are set
// directly.
type FakeProvider struct {
	mu      sync.Mutex
	Code    map[models.Address][]byte
	Storage map[models.Address]map[models.Hash]models.Hash
	Calls   map[models.Address]map[string][]byte // keyed by hex calldata
	Logs    map[models.Address][]Log
	Block   uint64
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Code:    map[models.Address][]byte{},
		Storage: map[models.Address]map[models.Hash]models.Hash{},
		Calls:   map[models.Address]map[string][]byte{},
		Logs:    map[models.Address][]Log{},
		Block:   1,
	}
}

func (f *FakeProvider) SetCode(addr models.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Code[addr] = code
}

func (f *FakeProvider) SetStorage(addr models.Address, slot, value models.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Storage[addr] == nil {
		f.Storage[addr] = map[models.Hash]models.Hash{}
	}
	f.Storage[addr][slot] = value
}

func (f *FakeProvider) SetCall(addr models.Address, calldataHex string, ret []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls[addr] == nil {
		f.Calls[addr] = map[string][]byte{}
	}
	f.Calls[addr][calldataHex] = ret
}

func (f *FakeProvider) SetLogs(addr models.Address, logs []Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs[addr] = logs
}

func (f *FakeProvider) GetCode(_ context.Context, addr models.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Code[addr], nil
}

func (f *FakeProvider) GetStorage(_ context.Context, addr models.Address, slot models.Hash) (models.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.Storage[addr]; ok {
		return m[slot], nil
	}
	return models.Hash{}, nil
}

func (f *FakeProvider) Call(_ context.Context, addr models.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.Calls[addr]; ok {
		key := "0x"
		for _, b := range data {
			key += hexByte(b)
		}
		if ret, ok := m[key]; ok {
			return ret, nil
		}
	}
	return nil, models.NewError(models.HandlerError, "Call", "no fixture for call")
}

func (f *FakeProvider) GetLogs(_ context.Context, filter LogFilter) ([]Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Logs[filter.Address], nil
}

func (f *FakeProvider) GetBlock(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Block, nil
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
