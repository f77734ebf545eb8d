package fraud

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultTrackingEntries = 10000

// LRUStore backs the tracking Store with an in-process expirable LRU.
// Entries fall out after the TTL, so stale device and location state ages
// away without a sweeper.
type LRUStore struct {
	cache *expirable.LRU[string, []byte]
}

func NewLRUStore(ttl time.Duration) *LRUStore {
	return &LRUStore{
		cache: expirable.NewLRU[string, []byte](defaultTrackingEntries, nil, ttl),
	}
}

func (s *LRUStore) Get(key string) ([]byte, bool) {
	return s.cache.Get(key)
}

func (s *LRUStore) Set(key string, value []byte) {
	s.cache.Add(key, value)
}
