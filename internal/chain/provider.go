// Package chain implements the blockchain RPC client the discovery core
// consumes. It is deliberately kept thin and swappable: the core never
// depends on the concrete type, only the Provider interface.
package chain

import (
	"context"

	"github.com/contractgraph/discovery/internal/models"
)

// LogFilter selects logs for Provider.GetLogs.
type LogFilter struct {
	Address   models.Address
	Topics    [][]models.Hash // OR within a position, AND across positions
	FromBlock uint64
	ToBlock   uint64 // 0 means "same as the run's pinned block"
}

// Log is one decoded-topic, raw-data event record.
type Log struct {
	Address models.Address
	Topics  []models.Hash
	Data    []byte
	TxHash  string
	Index   uint64
}

// Provider is the capability the discovery core consumes. All operations
// implicitly pin to the run's block (set at construction or resolved once
// via GetBlock). Implementations own their own rate-limit, retry, and
// concurrency-gate discipline.
type Provider interface {
	GetCode(ctx context.Context, addr models.Address) ([]byte, error)
	GetStorage(ctx context.Context, addr models.Address, slot models.Hash) (models.Hash, error)
	Call(ctx context.Context, addr models.Address, data []byte) ([]byte, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]Log, error)
	GetBlock(ctx context.Context) (uint64, error)
}
