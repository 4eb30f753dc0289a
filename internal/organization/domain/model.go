package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// OrganizationStatus is the operational status of a tenant.
type OrganizationStatus string

const (
	StatusActive      OrganizationStatus = "ACTIVE"
	StatusPaused      OrganizationStatus = "PAUSED"
	StatusDeactivated OrganizationStatus = "DEACTIVATED"
)

// Organization is one tenant of the platform, billed independently.
//
// PaymentFailureCount and LastPaymentDate are business-level counters and
// deliberately independent of the billing record's gateway-retry counters.
type Organization struct {
	ID                  snowflake.ID       `gorm:"primaryKey"`
	Name                string             `gorm:"type:text;not null"`
	Slug                string             `gorm:"type:text;not null;uniqueIndex"`
	BillingEmail        string             `gorm:"type:text;not null"`
	Status              OrganizationStatus `gorm:"type:text;not null;default:'ACTIVE';index"`
	PausedAt            *time.Time         `gorm:"column:paused_at"`
	PausedReason        *string            `gorm:"column:paused_reason;type:text"`
	DeactivatedAt       *time.Time         `gorm:"column:deactivated_at"`
	DeactivatedReason   *string            `gorm:"column:deactivated_reason;type:text"`
	PaymentFailureCount int                `gorm:"not null;default:0"`
	LastPaymentDate     *time.Time         `gorm:"column:last_payment_date"`
	CreatedAt           time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// MemberStatus tracks whether a member counts toward platform billing.
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "ACTIVE"
	MemberStatusInactive MemberStatus = "INACTIVE"
)

// Member is one enrolled member of an organization. Only active members
// count toward the platform subscription quantity.
type Member struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Status    MemberStatus `gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "organization_members" }
