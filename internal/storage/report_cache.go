package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReportCache caches rendered report payloads in Redis with a single-flight
// rule: at most one fetch per key is in flight, and every concurrent caller
// for that key awaits the same result.
type ReportCache struct {
	cache *RedisCache
	ttl   time.Duration

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	done    chan struct{}
	payload []byte
	err     error
}

// NewReportCache creates a report cache over the given Redis connection.
func NewReportCache(cache *RedisCache, ttl time.Duration) *ReportCache {
	return &ReportCache{
		cache:    cache,
		ttl:      ttl,
		inflight: make(map[string]*inflightCall),
	}
}

// GetOrCompute returns the cached payload for key, computing and storing it
// via fetch on a miss. Concurrent misses for the same key share one fetch.
func (rc *ReportCache) GetOrCompute(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	cached, err := rc.cache.GetRaw(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("report cache get error: %w", err)
	}

	if cached != nil {
		rc.cacheHits.Add(1)
		return cached, nil
	}

	rc.cacheMisses.Add(1)

	call, isNew := rc.getOrCreateInflight(key)

	if !isNew {
		// Another goroutine is already computing this report
		select {
		case <-call.done:
			return call.payload, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	payload, err := fetch(ctx)
	if err == nil {
		// A failed cache write only costs a recompute on the next miss
		_ = rc.cache.SetRaw(ctx, key, payload, rc.ttl)
	}

	rc.completeInflight(key, call, payload, err)

	return payload, err
}

// Invalidate removes a cached report.
func (rc *ReportCache) Invalidate(ctx context.Context, key string) error {
	return rc.cache.Del(ctx, key)
}

// Stats returns hit and miss counts.
func (rc *ReportCache) Stats() (hits, misses int64) {
	return rc.cacheHits.Load(), rc.cacheMisses.Load()
}

func (rc *ReportCache) getOrCreateInflight(key string) (*inflightCall, bool) {
	rc.inflightMu.Lock()
	defer rc.inflightMu.Unlock()

	if call, exists := rc.inflight[key]; exists {
		return call, false
	}

	call := &inflightCall{done: make(chan struct{})}
	rc.inflight[key] = call
	return call, true
}

func (rc *ReportCache) completeInflight(key string, call *inflightCall, payload []byte, err error) {
	rc.inflightMu.Lock()
	delete(rc.inflight, key)
	rc.inflightMu.Unlock()

	call.payload = payload
	call.err = err
	close(call.done)
}
