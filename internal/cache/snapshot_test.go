package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/stretchr/testify/assert"
)

func stateFor(orgID snowflake.ID, status domain.ModuleStatus) domain.State {
	return domain.State{
		OrgID: orgID.String(),
		Modules: map[string]domain.ModuleState{
			"sales": {Status: status, Submodules: map[string]bool{}},
		},
	}
}

func TestSnapshotCacheMissThenHit(t *testing.T) {
	orgID := snowflake.ID(7)
	var loads int32

	c := NewSnapshotCache(time.Minute, func(ctx context.Context, id snowflake.ID) (domain.State, error) {
		atomic.AddInt32(&loads, 1)
		return stateFor(id, domain.StatusEnabled), nil
	})

	first, err := c.Get(context.Background(), orgID)
	assert.NoError(t, err)
	second, err := c.Get(context.Background(), orgID)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestSnapshotCacheInvalidateForcesReload(t *testing.T) {
	orgID := snowflake.ID(7)
	var loads int32

	c := NewSnapshotCache(time.Minute, func(ctx context.Context, id snowflake.ID) (domain.State, error) {
		n := atomic.AddInt32(&loads, 1)
		status := domain.StatusDisabled
		if n > 1 {
			status = domain.StatusEnabled
		}
		return stateFor(id, status), nil
	})

	before, err := c.Get(context.Background(), orgID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusDisabled, before.Modules["sales"].Status)

	c.Invalidate(orgID)
	// Duplicate invalidation must be harmless.
	c.Invalidate(orgID)

	after, err := c.Get(context.Background(), orgID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusEnabled, after.Modules["sales"].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestSnapshotCacheLoadErrorNotCached(t *testing.T) {
	orgID := snowflake.ID(7)
	var loads int32

	c := NewSnapshotCache(time.Minute, func(ctx context.Context, id snowflake.ID) (domain.State, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			return domain.State{}, context.DeadlineExceeded
		}
		return stateFor(id, domain.StatusEnabled), nil
	})

	_, err := c.Get(context.Background(), orgID)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	state, err := c.Get(context.Background(), orgID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusEnabled, state.Modules["sales"].Status)
}

func TestSnapshotCacheCollapsesConcurrentMisses(t *testing.T) {
	orgID := snowflake.ID(7)
	var loads int32
	release := make(chan struct{})

	c := NewSnapshotCache(time.Minute, func(ctx context.Context, id snowflake.ID) (domain.State, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return stateFor(id, domain.StatusEnabled), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), orgID)
			assert.NoError(t, err)
		}()
	}

	// Give the goroutines a moment to pile onto the same key.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}
