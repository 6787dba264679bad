package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so trial expiry and cache TTLs are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns a Clock backed by the system wall clock.
func NewSystem() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
