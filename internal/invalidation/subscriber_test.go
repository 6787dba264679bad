package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type targetStub struct {
	mu   sync.Mutex
	seen []snowflake.ID
	ch   chan snowflake.ID
}

func newTargetStub() *targetStub {
	return &targetStub{ch: make(chan snowflake.ID, 16)}
}

func (t *targetStub) Invalidate(orgID snowflake.ID) {
	t.mu.Lock()
	t.seen = append(t.seen, orgID)
	t.mu.Unlock()
	t.ch <- orgID
}

func (t *targetStub) wait(tt *testing.T, want snowflake.ID) {
	tt.Helper()
	select {
	case got := <-t.ch:
		if got != want {
			tt.Fatalf("invalidated %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		tt.Fatalf("timed out waiting for invalidation of %d", want)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	target := newTargetStub()
	lc := fxtest.NewLifecycle(t)
	NewSubscriber(SubscriberParams{
		Lc:     lc,
		Log:    zap.NewNop(),
		Client: client,
		Target: target,
	})
	lc.RequireStart()
	defer lc.RequireStop()

	broadcaster := NewBroadcaster(client, zap.NewNop())
	orgID := snowflake.ID(7001)
	broadcaster.Publish(context.Background(), orgID)

	target.wait(t, orgID)
}

func TestSubscriberDropsMalformedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	target := newTargetStub()
	lc := fxtest.NewLifecycle(t)
	NewSubscriber(SubscriberParams{
		Lc:     lc,
		Log:    zap.NewNop(),
		Client: client,
		Target: target,
	})
	lc.RequireStart()
	defer lc.RequireStop()

	ctx := context.Background()
	if err := client.Publish(ctx, Channel, "not-an-org-id").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	orgID := snowflake.ID(7002)
	NewBroadcaster(client, zap.NewNop()).Publish(ctx, orgID)

	// The well-formed message still arrives after the malformed one was
	// dropped.
	target.wait(t, orgID)
	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.seen) != 1 {
		t.Fatalf("expected exactly one invalidation, got %d", len(target.seen))
	}
}

func TestNilBroadcasterPublishIsNoop(t *testing.T) {
	var b *Broadcaster
	b.Publish(context.Background(), snowflake.ID(1))

	NewBroadcaster(nil, zap.NewNop()).Publish(context.Background(), snowflake.ID(1))
}
