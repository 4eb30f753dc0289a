package gateway

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api *client.API
	log *zap.Logger
}

// NewStripeGateway builds a Stripe-backed gateway with its own API client.
func NewStripeGateway(apiKey string, log *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api: client.New(apiKey, nil),
		log: log.Named("billing.gateway.stripe"),
	}
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (g *StripeGateway) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, ErrNotFound
	}
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := g.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get invoice %s: %w", invoiceID, err)
	}
	return invoiceFromStripe(inv), nil
}

func (g *StripeGateway) PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) error {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	if _, err := g.api.Invoices.Pay(invoiceID, params); err != nil {
		return fmt.Errorf("stripe: pay invoice %s: %w", invoiceID, err)
	}
	return nil
}

func (g *StripeGateway) UpdateInvoiceMetadata(ctx context.Context, invoiceID string, metadata map[string]string) error {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	if _, err := g.api.Invoices.Update(invoiceID, params); err != nil {
		return fmt.Errorf("stripe: update invoice metadata %s: %w", invoiceID, err)
	}
	return nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if _, err := g.api.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		return fmt.Errorf("stripe: attach payment method %s: %w", paymentMethodID, err)
	}
	return nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	if _, err := g.api.Customers.Update(customerID, params); err != nil {
		return fmt.Errorf("stripe: set default payment method for %s: %w", customerID, err)
	}
	return nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, quantity int64, metadata map[string]string) (*Subscription, error) {
	if quantity < 1 {
		quantity = 1
	}
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create subscription for %s: %w", customerID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Metadata:          sub.Metadata,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		out.ItemID = sub.Items.Data[0].ID
	}
	return out
}

func invoiceFromStripe(inv *stripe.Invoice) *Invoice {
	if inv == nil {
		return nil
	}
	out := &Invoice{
		ID:               inv.ID,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		Status:           string(inv.Status),
		Metadata:         inv.Metadata,
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out
}
