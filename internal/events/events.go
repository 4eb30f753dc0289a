package events

// Billing reconciliation event types published to the outbox.
const (
	EventPaymentSettled        = "payment_settled"
	EventOverdueSettled        = "overdue_settled"
	EventPaymentFailed         = "payment_failed"
	EventSubscriptionMirrored  = "subscription_mirrored"
	EventSubscriptionCanceled  = "subscription_canceled"
	EventBillingSetupCompleted = "billing_setup_completed"
	EventOrganizationPaused    = "organization_paused"
	EventOrgDeactivated        = "organization_deactivated"
	EventOrgReactivated        = "organization_reactivated"
)

// PaymentEventPayload captures the minimal data downstream consumers need
// to react to a settled or failed payment.
type PaymentEventPayload struct {
	OrgID           string `json:"org_id"`
	ProviderEventID string `json:"provider_event_id"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	InvoiceID       string `json:"invoice_id,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p PaymentEventPayload) ToMap() map[string]any {
	payload := map[string]any{
		"org_id":            p.OrgID,
		"provider_event_id": p.ProviderEventID,
	}
	if p.PaymentIntentID != "" {
		payload["payment_intent_id"] = p.PaymentIntentID
	}
	if p.InvoiceID != "" {
		payload["invoice_id"] = p.InvoiceID
	}
	if p.Amount != 0 {
		payload["amount"] = p.Amount
	}
	if p.Currency != "" {
		payload["currency"] = p.Currency
	}
	return payload
}

// StatusEventPayload captures an organization status transition.
type StatusEventPayload struct {
	OrgID  string `json:"org_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p StatusEventPayload) ToMap() map[string]any {
	payload := map[string]any{
		"org_id": p.OrgID,
		"status": p.Status,
	}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	return payload
}
