package audit

import (
	"github.com/studiolane/studiolane/internal/audit/repository"
	"github.com/studiolane/studiolane/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
