package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/studiolane/studiolane/internal/audit"
	"github.com/studiolane/studiolane/internal/billing"
	"github.com/studiolane/studiolane/internal/billing/dunning"
	"github.com/studiolane/studiolane/internal/clock"
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/events"
	"github.com/studiolane/studiolane/internal/migration"
	"github.com/studiolane/studiolane/internal/notify"
	"github.com/studiolane/studiolane/internal/observability"
	"github.com/studiolane/studiolane/internal/organization"
	"github.com/studiolane/studiolane/internal/seed"
	"github.com/studiolane/studiolane/internal/server"
	"github.com/studiolane/studiolane/pkg/db"
	"github.com/studiolane/studiolane/pkg/id"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		clock.Module,
		db.Module,
		migration.Module,
		fx.Invoke(func(conn *gorm.DB, node *snowflake.Node, cfg config.Config) error {
			if cfg.Bootstrap.EnsureDefaultOrg && !cfg.IsCloud() {
				return seed.EnsureDefaultOrg(conn, node)
			}
			return nil
		}),
		events.Module,
		audit.Module,
		organization.Module,
		notify.Module,
		billing.Module,
		dunning.Module,
		server.Module,
	)
	app.Run()
}
