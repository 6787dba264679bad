package cache

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"golang.org/x/sync/singleflight"
)

const DefaultSnapshotTTL = 5 * time.Minute

// LoadFunc computes a fresh effective state for one organization.
type LoadFunc func(ctx context.Context, orgID snowflake.ID) (domain.State, error)

// SnapshotCache memoizes resolver output per organization. The key is the
// org ID alone: entitlements are always resolved as a whole unit, and
// recomputing the full state is cheap relative to partial invalidation.
//
// The TTL bounds staleness after changes that bypassed the update engine;
// normal administrative writes invalidate synchronously.
type SnapshotCache struct {
	states Cache[string, domain.State]
	ttl    time.Duration
	group  singleflight.Group
	load   LoadFunc
}

// NewSnapshotCache returns a snapshot cache with the given TTL; a
// non-positive TTL falls back to the default.
func NewSnapshotCache(ttl time.Duration, load LoadFunc) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{
		states: NewTTLCache[string, domain.State](),
		ttl:    ttl,
		load:   load,
	}
}

// Get returns the cached state, computing and storing it on a miss.
// Concurrent misses for the same organization collapse into one load.
func (c *SnapshotCache) Get(ctx context.Context, orgID snowflake.ID) (domain.State, error) {
	key := orgID.String()
	if state, ok := c.states.Get(key); ok {
		return state, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		if state, ok := c.states.Get(key); ok {
			return state, nil
		}
		state, err := c.load(ctx, orgID)
		if err != nil {
			return domain.State{}, err
		}
		c.states.Set(key, state, c.ttl)
		return state, nil
	})
	if err != nil {
		return domain.State{}, err
	}
	return value.(domain.State), nil
}

// Invalidate drops the organization's entry immediately, regardless of TTL.
// Tolerates duplicate invalidations.
func (c *SnapshotCache) Invalidate(orgID snowflake.ID) {
	c.states.Delete(orgID.String())
}

// Contains reports whether a live snapshot exists for the organization.
func (c *SnapshotCache) Contains(orgID snowflake.ID) bool {
	_, ok := c.states.Get(orgID.String())
	return ok
}

// Len reports the number of cached snapshots.
func (c *SnapshotCache) Len() int { return c.states.Len() }
