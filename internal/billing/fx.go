package billing

import (
	"github.com/studiolane/studiolane/internal/billing/gateway"
	"github.com/studiolane/studiolane/internal/billing/repository"
	"github.com/studiolane/studiolane/internal/billing/service"
	"github.com/studiolane/studiolane/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, log *zap.Logger) gateway.Gateway {
		return gateway.NewStripeGateway(cfg.Stripe.APIKey, log)
	}),
	fx.Provide(service.NewService),
)
