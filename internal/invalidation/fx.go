package invalidation

import "go.uber.org/fx"

var Module = fx.Module("invalidation",
	fx.Provide(
		NewRedisClient,
		NewBroadcaster,
		NewSubscriber,
	),
	fx.Invoke(func(*Subscriber) {}),
)
