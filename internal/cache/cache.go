// Package cache holds short-lived snapshots of backend resource state.
// Snapshots feed disambiguation and confirmation prompts; they never replace
// a live read on the execution path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/maxamillion/rhails/internal/backend"
	"github.com/maxamillion/rhails/internal/domain"
)

// ErrResourceUnavailable is returned when the backend fails and no snapshot,
// fresh or stale, exists for the resource.
var ErrResourceUnavailable = errors.New("cache: resource state unavailable")

// Snapshot is a point-in-time view of one resource. Stale marks snapshots
// older than the TTL that were served because the backend was unreachable.
type Snapshot struct {
	State     backend.ResourceState
	FetchedAt time.Time
	Stale     bool
}

// ResourceCache is a TTL cache over backend resource state. Concurrent
// misses for the same resource collapse into one backend fetch.
type ResourceCache struct {
	client backend.Client
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Snapshot
}

// New creates a resource cache with the given TTL.
func New(client backend.Client, ttl time.Duration) *ResourceCache {
	return &ResourceCache{
		client:  client,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*Snapshot),
	}
}

// Get returns the snapshot for a resource, fetching from the backend when
// the cached entry is missing or expired. On backend failure an expired
// snapshot is returned marked stale; with no snapshot at all the backend
// error is wrapped in ErrResourceUnavailable.
func (c *ResourceCache) Get(ctx context.Context, ref domain.ResourceRef) (*Snapshot, error) {
	key := ref.Key()

	if snap := c.fresh(key); snap != nil {
		return snap, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have refreshed while we queued.
		if snap := c.fresh(key); snap != nil {
			return snap, nil
		}

		result, err := c.client.Get(ctx, ref)
		if err != nil || result.State == nil {
			if stale := c.any(key); stale != nil {
				slog.Warn("serving stale resource snapshot",
					"resource", key, "age", c.now().Sub(stale.FetchedAt), "error", err)
				copied := *stale
				copied.Stale = true
				return &copied, nil
			}
			if err == nil {
				err = fmt.Errorf("backend returned no state for %s", key)
			}
			return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
		}

		snap := &Snapshot{State: *result.State, FetchedAt: c.now()}
		c.mu.Lock()
		c.entries[key] = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the snapshot for a resource. Called after every
// successful mutating operation on that resource.
func (c *ResourceCache) Invalidate(ref domain.ResourceRef) {
	c.mu.Lock()
	delete(c.entries, ref.Key())
	c.mu.Unlock()
}

// Put stores a snapshot directly, e.g. from a live read already in hand.
func (c *ResourceCache) Put(state backend.ResourceState) {
	c.mu.Lock()
	c.entries[state.Ref.Key()] = &Snapshot{State: state, FetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *ResourceCache) fresh(key string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.entries[key]
	if snap == nil || c.now().Sub(snap.FetchedAt) >= c.ttl {
		return nil
	}
	return snap
}

func (c *ResourceCache) any(key string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}
