package events

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("events",
	fx.Provide(func(db *gorm.DB, genID *snowflake.Node) *Outbox {
		return NewOutbox(db, genID)
	}),
)
