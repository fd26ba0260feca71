package biztel

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/callquality/backend/internal/utils"
)

// ClientCache hands out one Client per tenant and credential set. Entries are
// keyed by a fingerprint of the credentials, so a rotated key never reuses a
// client built for the old one even if Evict is not called.
type ClientCache struct {
	New func(Credentials) *Client

	mu  sync.Mutex
	lru *expirable.LRU[string, *Client]
}

func NewClientCache(size int, ttl time.Duration, factory func(Credentials) *Client) *ClientCache {
	if size <= 0 {
		size = 128
	}
	if factory == nil {
		factory = NewClient
	}
	return &ClientCache{
		New: factory,
		lru: expirable.NewLRU[string, *Client](size, nil, ttl),
	}
}

func cacheKey(tenantID string, creds Credentials) string {
	return tenantID + ":" + utils.Fingerprint(creds.APIKey, creds.APISecret, strings.TrimRight(creds.BaseURL, "/"))
}

// Get returns the cached client for the tenant's current credentials or
// builds one. Clients cached for older credentials of the tenant are dropped.
func (c *ClientCache) Get(tenantID string, creds Credentials) *Client {
	key := cacheKey(tenantID, creds)

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.lru.Get(key); ok {
		return client
	}
	c.evictLocked(tenantID)
	client := c.New(creds)
	c.lru.Add(key, client)
	return client
}

// Evict drops every cached client of the tenant. Call it when the tenant's
// credentials change.
func (c *ClientCache) Evict(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(tenantID)
}

func (c *ClientCache) Len() int {
	return c.lru.Len()
}

func (c *ClientCache) evictLocked(tenantID string) {
	prefix := tenantID + ":"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}
