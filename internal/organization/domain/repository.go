package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Organization, error)

	// ReactivateIfSuspended flips PAUSED/DEACTIVATED to ACTIVE, clearing the
	// reason/timestamp fields atomically. Reports whether a row changed.
	ReactivateIfSuspended(ctx context.Context, db *gorm.DB, orgID snowflake.ID, paidAt time.Time) (bool, error)

	// RecordPayment updates last_payment_date and resets the failure counter
	// without touching status.
	RecordPayment(ctx context.Context, db *gorm.DB, orgID snowflake.ID, paidAt time.Time) error

	IncrementPaymentFailures(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error

	// SetPaused transitions ACTIVE to PAUSED. Reports whether a row changed.
	SetPaused(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reason string, at time.Time) (bool, error)

	// SetDeactivated transitions ACTIVE/PAUSED to DEACTIVATED. Reports
	// whether a row changed.
	SetDeactivated(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reason string, at time.Time) (bool, error)

	CountActiveMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
}
