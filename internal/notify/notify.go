package notify

import (
	"context"
	"errors"
)

// Recipient identifies who a billing message goes to.
type Recipient struct {
	OrgID   string
	OrgName string
	Email   string
}

// Receipt describes a settled payment.
type Receipt struct {
	Amount     int64
	Currency   string
	ReceiptURL string
	PaidAt     string
}

// FailureWarning describes an unresolved payment failure.
type FailureWarning struct {
	Amount     int64
	Currency   string
	FailedAt   string
	RetryCount int
	// Final marks the escalated warning sent once per streak by the dunning
	// worker, as opposed to the immediate per-failure notice.
	Final bool
}

// Notifier delivers billing lifecycle messages to tenants. Delivery is
// best effort; callers log and continue on error.
type Notifier interface {
	SendPaymentReceipt(ctx context.Context, to Recipient, receipt Receipt) error
	SendPaymentFailureWarning(ctx context.Context, to Recipient, warning FailureWarning) error
	SendAccountPaused(ctx context.Context, to Recipient, reason string) error
	SendAccountDeactivated(ctx context.Context, to Recipient, reason string) error
}

var ErrNoRecipient = errors.New("notify_no_recipient")

// Nop discards every message. Used when no mailer endpoint is configured
// and in tests that do not assert on notifications.
type Nop struct{}

func (Nop) SendPaymentReceipt(context.Context, Recipient, Receipt) error          { return nil }
func (Nop) SendPaymentFailureWarning(context.Context, Recipient, FailureWarning) error {
	return nil
}
func (Nop) SendAccountPaused(context.Context, Recipient, string) error      { return nil }
func (Nop) SendAccountDeactivated(context.Context, Recipient, string) error { return nil }
