package crypt

import (
	"context"
	"fmt"
	"sync"

	"github.com/ytget/hls-downloader/internal/model"
)

// Fetcher is the HTTP capability the key cache needs
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// KeyCache fetches and caches AES key bytes by key URI for the lifetime of
// one job. A playlist commonly reuses one key across many segments, so each
// URI is fetched at most a handful of times: a concurrent first access may
// trigger a short duplicate fetch rather than blocking, since key content
// is idempotent.
type KeyCache struct {
	fetcher Fetcher

	mu   sync.RWMutex
	keys map[string][]byte

	// OnFetch, when set, is called after each actual network fetch of a key
	OnFetch func(uri string)
}

// NewKeyCache creates an empty per-job key cache
func NewKeyCache(fetcher Fetcher) *KeyCache {
	return &KeyCache{
		fetcher: fetcher,
		keys:    make(map[string][]byte),
	}
}

// Get returns the key bytes for uri, fetching them on first use. A fetched
// key must be exactly 16 bytes.
func (kc *KeyCache) Get(ctx context.Context, uri string) ([]byte, error) {
	kc.mu.RLock()
	key, ok := kc.keys[uri]
	kc.mu.RUnlock()
	if ok {
		return key, nil
	}

	fetched, err := kc.fetcher.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetch key %s: %w", uri, err)
	}
	if len(fetched) != model.KeyLength {
		return nil, &CryptoError{Reason: fmt.Sprintf("key %s: expected %d bytes, got %d", uri, model.KeyLength, len(fetched))}
	}

	if kc.OnFetch != nil {
		kc.OnFetch(uri)
	}

	kc.mu.Lock()
	if existing, ok := kc.keys[uri]; ok {
		// Another worker fetched the same key first; keep its copy
		fetched = existing
	} else {
		kc.keys[uri] = fetched
	}
	kc.mu.Unlock()

	return fetched, nil
}
