package clock

import "go.uber.org/fx"

// Module provides the system clock. Webhook handlers and the dunning worker
// take Clock so tests can pin failure-streak timestamps.
var Module = fx.Module("clock",
	fx.Provide(func() Clock {
		return SystemClock{}
	}),
)
