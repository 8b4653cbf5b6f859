package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoConnector is the L1 in-process cache.
type RistrettoConnector struct {
	c *ristretto.Cache[string, []byte]
}

func NewRistrettoConnector() (*RistrettoConnector, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e7,
		MaxCost:     1 << 28, // 256MiB of cached ABI/source bytes
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoConnector{c: c}, nil
}

func compositeKey(key, partition string) string { return partition + "/" + key }

func (r *RistrettoConnector) Get(_ context.Context, _, key, partition string) ([]byte, error) {
	v, ok := r.c.Get(compositeKey(key, partition))
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (r *RistrettoConnector) Set(_ context.Context, key, partition string, value []byte, ttl *time.Duration) error {
	ck := compositeKey(key, partition)
	var ok bool
	if ttl != nil {
		ok = r.c.SetWithTTL(ck, value, int64(len(value)), *ttl)
	} else {
		ok = r.c.Set(ck, value, int64(len(value)))
	}
	if ok {
		r.c.Wait()
	}
	return nil
}

func (r *RistrettoConnector) Delete(_ context.Context, key, partition string) error {
	r.c.Del(compositeKey(key, partition))
	return nil
}

func (r *RistrettoConnector) Close() { r.c.Close() }
