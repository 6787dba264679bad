package invalidation

import (
	"context"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/featuregate/internal/observability/metrics"
)

// Target receives invalidations decoded from the redis channel.
type Target interface {
	Invalidate(orgID snowflake.ID)
}

// Subscriber drains the invalidation channel for this replica. It tolerates
// malformed payloads and reconnects are handled by go-redis internally.
type Subscriber struct {
	client  *redis.Client
	target  Target
	log     *zap.Logger
	metrics *metrics.Metrics

	pubsub *redis.PubSub
	done   chan struct{}
}

type SubscriberParams struct {
	fx.In

	Lc      fx.Lifecycle
	Log     *zap.Logger
	Client  *redis.Client
	Target  Target
	Metrics *metrics.Metrics `optional:"true"`
}

func NewSubscriber(p SubscriberParams) *Subscriber {
	s := &Subscriber{
		client:  p.Client,
		target:  p.Target,
		log:     p.Log.Named("invalidation.subscriber"),
		metrics: p.Metrics,
		done:    make(chan struct{}),
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if s.client == nil {
				close(s.done)
				return nil
			}
			s.pubsub = s.client.Subscribe(ctx, Channel)
			// Wait for the subscription ack so no invalidation published
			// after startup is missed.
			if _, err := s.pubsub.Receive(ctx); err != nil {
				s.log.Warn("invalidation subscription not confirmed", zap.Error(err))
			}
			go s.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.pubsub == nil {
				return nil
			}
			err := s.pubsub.Close()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return err
		},
	})

	return s
}

func (s *Subscriber) run() {
	defer close(s.done)

	for msg := range s.pubsub.Channel() {
		orgID, err := snowflake.ParseString(msg.Payload)
		if err != nil || orgID == 0 {
			s.log.Warn("dropping malformed invalidation payload", zap.String("payload", msg.Payload))
			continue
		}
		s.target.Invalidate(orgID)
		s.metrics.RecordInvalidation(context.Background(), "remote")
	}
}
