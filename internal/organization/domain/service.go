package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrganizationService drives operational status transitions. Reactivation is
// only reachable through a settlement; nothing else may flip a paused or
// deactivated organization back to active.
type OrganizationService interface {
	// WithTx binds the service to an open transaction. Status transitions
	// and their audit and outbox rows then commit or roll back with the
	// caller's writes.
	WithTx(tx *gorm.DB) Service

	Get(ctx context.Context, orgID snowflake.ID) (*Organization, error)

	// Reactivate clears PAUSED/DEACTIVATED back to ACTIVE, wiping all four
	// reason/timestamp fields and resetting PaymentFailureCount in a single
	// conditional update. For an already-active organization it only records
	// the payment date and resets the failure counter.
	Reactivate(ctx context.Context, orgID snowflake.ID, paidAt time.Time) error

	// RecordPaymentFailure increments the business-level failure counter.
	RecordPaymentFailure(ctx context.Context, orgID snowflake.ID) error

	Pause(ctx context.Context, orgID snowflake.ID, reason string, at time.Time) error
	Deactivate(ctx context.Context, orgID snowflake.ID, reason string, at time.Time) error

	// CountActiveMembers returns the billing quantity for the platform
	// subscription.
	CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int64, error)
}

// Service is the package alias for OrganizationService.
type Service = OrganizationService

var (
	ErrNotFound       = errors.New("organization_not_found")
	ErrInvalidOrgID   = errors.New("invalid_org_id")
	ErrInvalidReason  = errors.New("invalid_reason")
	ErrAlreadyInState = errors.New("organization_already_in_state")
)
