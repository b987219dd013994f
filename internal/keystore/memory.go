package keystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/jellydator/ttlcache/v3"
)

type memoryStore struct {
	cache     *ttlcache.Cache[string, []byte]
	closeOnce sync.Once
}

// NewMemory returns an in-process KeyStore. It backs tests and serves as the
// fallback when the configured redis cannot be reached at startup.
func NewMemory() KeyStore {
	cache := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &memoryStore{cache: cache}
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, cloneBytes(value), ttl)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return cloneBytes(item.Value()), true, nil
}

func (s *memoryStore) Del(_ context.Context, key string) (int64, error) {
	item, ok := s.cache.GetAndDelete(key)
	if !ok || item.IsExpired() {
		return 0, nil
	}
	return 1, nil
}

func (s *memoryStore) DelByPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, nil
	}
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("keystore: compile pattern %q: %w", pattern, err)
	}
	var deleted int64
	for _, key := range s.cache.Keys() {
		if !matcher.Match(key) {
			continue
		}
		n, _ := s.Del(ctx, key)
		deleted += n
	}
	return deleted, nil
}

func (s *memoryStore) FlushAll(context.Context) error {
	s.cache.DeleteAll()
	return nil
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	s.closeOnce.Do(s.cache.Stop)
	return nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
