// Package cache provides the layered Cache used by internal/sourcecode to
// avoid re-fetching immutable ABI/source artifacts.
package cache

import (
	"context"
	"time"
)

// Connector is the storage-backend abstraction behind Cache: a
// partition/range-key store with optional per-entry TTL. Three concrete
// Connectors exist (ristretto, redis, dynamodb), of increasing durability.
type Connector interface {
	// Get retrieves a value. index is a secondary-index name ("" for the
	// primary key path); key is the partition key; partition is the sort
	// key / logical namespace.
	Get(ctx context.Context, index, key, partition string) ([]byte, error)

	// Set stores a value with optional TTL (nil means "no expiry").
	Set(ctx context.Context, key, partition string, value []byte, ttl *time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key, partition string) error
}

// ErrNotFound is returned by Connector.Get when the key does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "cache: key not found" }
