package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists billing state. Every mutation is a targeted
// conditional update or an upsert keyed on an external identifier, so
// redelivered and out-of-order events converge to the same end state.
type Repository interface {
	// Webhook event store.
	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindWebhookEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orgID *snowflake.ID, processedAt time.Time) error

	// Billing record.
	FindRecordByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*BillingRecord, error)
	FindRecordBySubscription(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*BillingRecord, error)

	// BeginFailureStreak sets first_payment_failure_date only when it is
	// currently null. Reports whether this call started the streak.
	BeginFailureStreak(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) (bool, error)

	// ClearFailureStreak ends the streak on settlement: failure date null,
	// retry count zero, warning flag reset, status and last-billed updated.
	ClearFailureStreak(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionStatus string, billedAt time.Time) error

	SetSubscriptionStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status string) error

	// SetSubscription records the gateway subscription identifiers and the
	// reported status.
	SetSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionID, subscriptionItemID, status string) error

	// ClearSubscription nulls the subscription identifiers and marks the
	// status canceled, so a future resubscribe starts clean.
	ClearSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error

	SetPaymentMethod(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerID, paymentMethodID string) error

	SetLastBilled(ctx context.Context, db *gorm.DB, orgID snowflake.ID, billedAt time.Time, memberCount int) error

	// EnsureRecord creates the billing record if the organization has none.
	EnsureRecord(ctx context.Context, db *gorm.DB, record *BillingRecord) error

	// Local transaction mirrors, keyed on gateway identifiers.
	MarkPaymentSucceeded(ctx context.Context, db *gorm.DB, gatewayPaymentIntentID string, paidAt time.Time, methodLabel string) (bool, error)
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, paidAt time.Time, methodLabel string) (bool, error)

	// Dunning escalation scan. Records are locked for the worker batch
	// where the dialect supports it.
	LockRecordsInStreak(ctx context.Context, db *gorm.DB, limit int) ([]*BillingRecord, error)
	RecordRetryAttempt(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) error
	MarkWarningEmailSent(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (bool, error)
}
