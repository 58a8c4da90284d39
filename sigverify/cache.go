package sigverify

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geanlabs/gravity/types"
)

// DefaultCacheSize bounds the number of remembered recoveries.
const DefaultCacheSize = 4096

type recoveryKey struct {
	digest types.Digest
	sig    string
}

// CachingRecoverer memoizes successful recoveries. Relayers re-verify the
// same confirmations many times while a batch waits for power; ecrecover
// dominates that cost. Failed recoveries are not cached.
type CachingRecoverer struct {
	inner Recoverer
	cache *lru.Cache[recoveryKey, types.Address]
}

// NewCachingRecoverer wraps inner with an LRU of the given size.
func NewCachingRecoverer(inner Recoverer, size int) (*CachingRecoverer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[recoveryKey, types.Address](size)
	if err != nil {
		return nil, fmt.Errorf("create recovery cache: %w", err)
	}
	return &CachingRecoverer{inner: inner, cache: cache}, nil
}

func (c *CachingRecoverer) IsAbstain(sig types.Signature) bool {
	return c.inner.IsAbstain(sig)
}

func (c *CachingRecoverer) Recover(digest types.Digest, sig types.Signature) (types.Address, error) {
	key := recoveryKey{digest: digest, sig: string(sig)}
	if addr, ok := c.cache.Get(key); ok {
		return addr, nil
	}
	addr, err := c.inner.Recover(digest, sig)
	if err != nil {
		return types.Address{}, err
	}
	c.cache.Add(key, addr)
	return addr, nil
}

// Len returns the number of cached recoveries.
func (c *CachingRecoverer) Len() int {
	return c.cache.Len()
}
