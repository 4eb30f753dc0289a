package service

import "strings"

// Minimal projections of the gateway webhook object payloads. Only the
// fields the handlers read are declared; everything else in the raw JSON is
// ignored so gateway API additions never break parsing.

type paymentIntentObject struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Customer      string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID         string            `json:"id"`
	Customer   string            `json:"customer"`
	AmountDue  int64             `json:"amount_due"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata"`

	// Newer API versions report the owning subscription under parent;
	// older ones carry a top-level subscription id. Both are accepted.
	Subscription string         `json:"subscription"`
	Parent       *invoiceParent `json:"parent"`
}

type invoiceParent struct {
	SubscriptionDetails *invoiceSubscriptionDetails `json:"subscription_details"`
}

type invoiceSubscriptionDetails struct {
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionID returns the owning subscription id, whichever shape
// carried it.
func (inv invoiceObject) subscriptionID() string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if id := strings.TrimSpace(inv.Parent.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	return strings.TrimSpace(inv.Subscription)
}

// subscriptionMetadata returns the subscription metadata snapshot embedded
// in the invoice, if the payload carried one.
func (inv invoiceObject) subscriptionMetadata() map[string]string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Metadata
	}
	return nil
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"items"`
}

func (sub subscriptionObject) firstItemID() string {
	if len(sub.Items.Data) == 0 {
		return ""
	}
	return sub.Items.Data[0].ID
}

type setupIntentObject struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}
