package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	x402 "github.com/metergate/x402"
)

// SettleCache deduplicates settle calls for replayed proofs. A proof that
// was already settled within the TTL reuses the cached outcome instead of
// asking the facilitator to move funds again; concurrent requests carrying
// the same proof collapse into a single settle call.
type SettleCache struct {
	mu       sync.Mutex
	results  map[string]x402.SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettleCache creates a cache whose entries live for ttl.
func NewSettleCache(ttl time.Duration) *SettleCache {
	return &SettleCache{
		results:  make(map[string]x402.SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// proofKey derives the cache key from the raw proof header. The header
// covers the signature and nonce, so distinct payment attempts never
// collide.
func proofKey(proofHeader string) string {
	sum := sha256.Sum256([]byte(proofHeader))
	return hex.EncodeToString(sum[:])
}

// settle resolves the settlement for a proof, going through fn at most
// once per live cache entry. Waiters whose leader fails retry themselves.
func (c *SettleCache) settle(ctx context.Context, proofHeader string, fn func() x402.SettleResponse) x402.SettleResponse {
	key := proofKey(proofHeader)
	for {
		cached, wait, done := c.claim(key)
		if wait == nil && done == nil {
			return cached
		}
		if wait != nil {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return x402.SettleResponse{Success: false, ErrorReason: ctx.Err().Error()}
			}
		}

		result := fn()
		c.mu.Lock()
		if result.Success {
			c.results[key] = result
			c.expiry[key] = time.Now().Add(c.ttl)
			c.evictExpiredLocked()
		}
		delete(c.inFlight, key)
		close(done)
		c.mu.Unlock()
		return result
	}
}

// claim returns exactly one of: a cached result, a channel to wait on
// while another request settles the same proof, or a done channel marking
// this caller as the one who settles.
func (c *SettleCache) claim(key string) (x402.SettleResponse, <-chan struct{}, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.expiry[key]; ok {
		if time.Now().Before(expiry) {
			return c.results[key], nil, nil
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}
	if wait, ok := c.inFlight[key]; ok {
		return x402.SettleResponse{}, wait, nil
	}
	done := make(chan struct{})
	c.inFlight[key] = done
	return x402.SettleResponse{}, nil, done
}

func (c *SettleCache) evictExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
