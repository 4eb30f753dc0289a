package dunning

import (
	"context"

	"go.uber.org/fx"
)

// Module runs the dunning worker for the process lifetime.
var Module = fx.Module("billing.dunning",
	fx.Provide(NewWorker),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, worker *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				worker.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
