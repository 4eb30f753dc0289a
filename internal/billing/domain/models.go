package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingRecord mirrors a tenant's payment-gateway subscription state.
// One row per organization, created at payment-method setup and kept for
// the organization's lifetime.
//
// FirstPaymentFailureDate is non-null exactly while the organization has an
// unresolved failure since the last success. PaymentRetryCount carries no
// meaning while FirstPaymentFailureDate is null.
type BillingRecord struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	OrgID                     snowflake.ID `gorm:"not null;uniqueIndex"`
	GatewayCustomerID         *string      `gorm:"column:gateway_customer_id;type:text;uniqueIndex"`
	GatewaySubscriptionID     *string      `gorm:"column:gateway_subscription_id;type:text;uniqueIndex"`
	GatewaySubscriptionItemID *string      `gorm:"column:gateway_subscription_item_id;type:text"`
	DefaultPaymentMethodID    *string      `gorm:"column:default_payment_method_id;type:text"`
	SubscriptionStatus        string       `gorm:"type:text;not null;default:''"`
	FirstPaymentFailureDate   *time.Time   `gorm:"column:first_payment_failure_date"`
	PaymentRetryCount         int          `gorm:"not null;default:0"`
	LastPaymentRetryDate      *time.Time   `gorm:"column:last_payment_retry_date"`
	WarningEmailSent          bool         `gorm:"not null;default:false"`
	LastBilledAt              *time.Time   `gorm:"column:last_billed_at"`
	LastBilledMemberCount     int          `gorm:"not null;default:0"`
	CreatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingRecord) TableName() string { return "billing_records" }

// SubscriptionStatusCanceled is written when the gateway deletes a
// subscription; every other status value is mirrored verbatim.
const SubscriptionStatusCanceled = "canceled"

// SubscriptionStatusPastDue is written on every failure event.
const SubscriptionStatusPastDue = "past_due"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Payment is the local mirror of one gateway payment. Rows are matched to
// the gateway transaction by GatewayPaymentIntentID, never by amount or
// timing.
type Payment struct {
	ID                     snowflake.ID  `gorm:"primaryKey"`
	OrgID                  snowflake.ID  `gorm:"not null;index"`
	InvoiceID              *snowflake.ID `gorm:"index"`
	GatewayPaymentIntentID *string       `gorm:"column:gateway_payment_intent_id;type:text;uniqueIndex"`
	Amount                 int64         `gorm:"not null;default:0"`
	Currency               string        `gorm:"type:text;not null;default:''"`
	Status                 PaymentStatus `gorm:"type:text;not null;default:'PENDING'"`
	MethodLabel            *string       `gorm:"column:method_label;type:text"`
	PaidAt                 *time.Time    `gorm:"column:paid_at"`
	CreatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "OPEN"
	InvoiceStatusPaid InvoiceStatus = "PAID"
	InvoiceStatusVoid InvoiceStatus = "VOID"
)

// Invoice is the local mirror of one tenant invoice.
type Invoice struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	OrgID              snowflake.ID  `gorm:"not null;index"`
	GatewayInvoiceID   *string       `gorm:"column:gateway_invoice_id;type:text;uniqueIndex"`
	Amount             int64         `gorm:"not null;default:0"`
	Currency           string        `gorm:"type:text;not null;default:''"`
	Status             InvoiceStatus `gorm:"type:text;not null;default:'OPEN'"`
	PaidAt             *time.Time    `gorm:"column:paid_at"`
	PaymentMethodLabel *string       `gorm:"column:payment_method_label;type:text"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// WebhookEvent stores every authenticated gateway notification, keyed
// uniquely on the provider's event id so redelivery is idempotent.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event,priority:1"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:text;not null;uniqueIndex:ux_webhook_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null;index"`
	OrgID           *snowflake.ID  `gorm:"index"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "billing_webhook_events" }
