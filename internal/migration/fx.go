package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies pending migrations before anything else touches the
// schema.
var Module = fx.Module("migration",
	fx.Invoke(func(db *gorm.DB, log *zap.Logger) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(context.Background(), sqlDB); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	}),
)
