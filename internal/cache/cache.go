package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cache is the layered façade internal/sourcecode uses. It fans a single
// logical get/set out across up to three Connectors of increasing
// durability and decreasing speed: an
// in-process RistrettoConnector, an optional shared RedisConnector, and an
// optional persistent DynamoConnector. A hit in a slower layer is written
// back into every faster layer so subsequent lookups short-circuit.
type Cache struct {
	layers []Connector
	log    zerolog.Logger
}

// NewCache builds a Cache from layers ordered fastest-first. Any of them
// may be nil-safe zero-value omitted by the caller; at least one layer
// should be supplied.
func NewCache(log zerolog.Logger, layers ...Connector) *Cache {
	return &Cache{layers: layers, log: log.With().Str("component", "cache").Logger()}
}

// Permanent is the ttl for immutable artifacts: a contract's deployed
// bytecode and verified source never change once observed on-chain, so
// those entries are written with no expiry.
var Permanent *time.Duration = nil

func (c *Cache) Get(ctx context.Context, index, key, partition string) ([]byte, error) {
	for i, layer := range c.layers {
		v, err := layer.Get(ctx, index, key, partition)
		if err == nil {
			c.backfill(ctx, i, key, partition, v)
			return v, nil
		}
		if err != ErrNotFound {
			c.log.Warn().Err(err).Int("layer", i).Str("key", key).Msg("cache layer read failed, trying next")
		}
	}
	return nil, ErrNotFound
}

// backfill writes a value found at layer idx into every faster layer above
// it, so subsequent reads short-circuit.
func (c *Cache) backfill(ctx context.Context, idx int, key, partition string, value []byte) {
	for i := 0; i < idx; i++ {
		if err := c.layers[i].Set(ctx, key, partition, value, Permanent); err != nil {
			c.log.Debug().Err(err).Int("layer", i).Msg("cache backfill failed")
		}
	}
}

func (c *Cache) Set(ctx context.Context, key, partition string, value []byte, ttl *time.Duration) error {
	var lastErr error
	wrote := false
	for i, layer := range c.layers {
		if err := layer.Set(ctx, key, partition, value, ttl); err != nil {
			c.log.Warn().Err(err).Int("layer", i).Str("key", key).Msg("cache layer write failed")
			lastErr = err
			continue
		}
		wrote = true
	}
	if wrote {
		return nil
	}
	return lastErr
}

func (c *Cache) Delete(ctx context.Context, key, partition string) error {
	var lastErr error
	for i, layer := range c.layers {
		if err := layer.Delete(ctx, key, partition); err != nil {
			c.log.Debug().Err(err).Int("layer", i).Msg("cache layer delete failed")
			lastErr = err
		}
	}
	return lastErr
}
