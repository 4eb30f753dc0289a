package gateway

import (
	"context"
	"errors"
)

// Subscription is the gateway-side view of a platform subscription.
type Subscription struct {
	ID                 string
	ItemID             string
	CustomerID         string
	Status             string
	Metadata           map[string]string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
}

// Invoice is the gateway-side view of an invoice.
type Invoice struct {
	ID               string
	SubscriptionID   string
	CustomerID       string
	AmountDue        int64
	AmountPaid       int64
	Currency         string
	Status           string
	Metadata         map[string]string
	HostedInvoiceURL string
}

// Gateway is the outbound port to the payment provider. The webhook channel
// is the only inbound path; everything here is a read or a targeted
// follow-up call made by a handler.
type Gateway interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// PayInvoice re-asserts the invoice as paid with the given payment
	// method.
	PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) error

	// UpdateInvoiceMetadata merges metadata onto the remote invoice. Used to
	// self-heal invoices whose tenant attribution was resolved via the
	// parent subscription.
	UpdateInvoiceMetadata(ctx context.Context, invoiceID string, metadata map[string]string) error

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateSubscription(ctx context.Context, customerID, priceID string, quantity int64, metadata map[string]string) (*Subscription, error)
}

var (
	ErrNotFound    = errors.New("gateway_object_not_found")
	ErrUnavailable = errors.New("gateway_unavailable")
)
