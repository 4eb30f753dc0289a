package notify

import "go.uber.org/fx"

// Module wires the notifier.
var Module = fx.Module("notify",
	fx.Provide(NewMailerClient),
)
