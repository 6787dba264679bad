package invalidation

import (
	"context"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel carries org ids whose cached snapshots must be dropped. Delivery
// is at-least-once from the writer's perspective: the local cache is always
// invalidated directly, the broadcast only covers other replicas, and any
// replica that misses a message converges within the snapshot TTL.
const Channel = "featuregate:entitlements:invalidate"

// Broadcaster fans an invalidation out to every replica. Publish on a nil
// Broadcaster or without a redis client is a no-op.
type Broadcaster struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBroadcaster(client *redis.Client, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		client: client,
		log:    log.Named("invalidation.broadcaster"),
	}
}

// Publish announces that the organization's snapshot changed. Errors are
// logged and swallowed: the write already committed and the local cache is
// already dropped, so a lost broadcast only delays remote convergence.
func (b *Broadcaster) Publish(ctx context.Context, orgID snowflake.ID) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.Publish(ctx, Channel, orgID.String()).Err(); err != nil {
		b.log.Warn("failed to publish invalidation",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
}
