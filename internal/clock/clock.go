// Package clock provides an injectable time source so components that fall
// back to "now" stay deterministic under test.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall-clock backed Clock.
func System() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return System() }),
)
