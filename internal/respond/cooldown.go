package respond

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const cooldownCacheSize = 4096

// cooldownCache suppresses repeated responses to the same threat identity
// within the configured window. Expiry is handled by the LRU's TTL; the size
// cap bounds memory when a noisy probe reports many distinct identities.
type cooldownCache struct {
	lru *expirable.LRU[string, time.Time]
}

func newCooldownCache(ttl time.Duration) *cooldownCache {
	return &cooldownCache{lru: expirable.NewLRU[string, time.Time](cooldownCacheSize, nil, ttl)}
}

// Active reports whether id has an unexpired entry.
func (c *cooldownCache) Active(id string) bool {
	_, ok := c.lru.Get(id)
	return ok
}

// Touch refreshes the entry for id, restarting its window.
func (c *cooldownCache) Touch(id string) {
	c.lru.Add(id, time.Now().UTC())
}
