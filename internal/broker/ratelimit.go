package broker

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// rateLimitWindow is the sliding window length for both HTTP admissions
// and control-channel opens, spec §4.5.
const rateLimitWindow = time.Minute

// maxTrackedAddresses bounds the number of distinct source addresses kept
// under count at once; the expirable LRU evicts an address that never
// repeats on its own even if the periodic sweep has not run yet. Grounded
// on destiny-lucas's internal/hub/nonce_cache.go, which bounds its
// per-device LRU the same way.
const maxTrackedAddresses = 8192

// Limiter is the rate-limit gate of spec §4.5: per-source-address sliding
// windows for HTTP admissions and for control-channel opens.
type Limiter struct {
	enabled     bool
	maxRequests int
	maxConns    int
	requestMu   sync.Mutex
	requestLRU  *lru.LRU[string, *bucket]
	connMu      sync.Mutex
	connLRU     *lru.LRU[string, *bucket]
}

type bucket struct {
	mu   sync.Mutex
	hits []time.Time
}

// NewLimiter constructs a Limiter. If enabled is false, Allow* always
// returns true, matching the "enable_rate_limit" master switch (spec §6).
func NewLimiter(maxRequestsPerMinute, maxConnectionsPerIP int, enabled bool) *Limiter {
	return &Limiter{
		enabled:     enabled,
		maxRequests: maxRequestsPerMinute,
		maxConns:    maxConnectionsPerIP,
		requestLRU:  lru.NewLRU[string, *bucket](maxTrackedAddresses, nil, rateLimitWindow*2),
		connLRU:     lru.NewLRU[string, *bucket](maxTrackedAddresses, nil, rateLimitWindow*2),
	}
}

// AllowRequest checks and records an inbound HTTP admission for addr.
func (l *Limiter) AllowRequest(addr string, now time.Time) bool {
	if !l.enabled {
		return true
	}
	return allow(&l.requestMu, l.requestLRU, addr, now, l.maxRequests)
}

// AllowConnection checks and records a control-channel open for addr.
func (l *Limiter) AllowConnection(addr string, now time.Time) bool {
	if !l.enabled {
		return true
	}
	return allow(&l.connMu, l.connLRU, addr, now, l.maxConns)
}

func allow(mu *sync.Mutex, cache *lru.LRU[string, *bucket], addr string, now time.Time, max int) bool {
	mu.Lock()
	b, ok := cache.Get(addr)
	if !ok {
		b = &bucket{}
	}
	// Re-adding refreshes the entry's TTL, so only an address that stops
	// sending expires; Get alone does not extend it.
	cache.Add(addr, b)
	mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-rateLimitWindow)
	live := b.hits[:0]
	for _, t := range b.hits {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	b.hits = live

	if len(b.hits) >= max {
		return false
	}
	b.hits = append(b.hits, now)
	return true
}
