package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Metadata keys written by the platform onto gateway objects.
const (
	MetadataKeyOrgID           = "org_id"
	MetadataKeyPurpose         = "purpose"
	MetadataKeyInvoiceID       = "invoice_id"
	MetadataKeyPlatformBilling = "platform_billing"
)

// Purposes carried in payment metadata.
const (
	PurposePlatformOverdue = "platform_overdue"
	PurposeTenantInvoice   = "tenant_invoice"
	PurposePlatformSetup   = "platform_setup"
)

// PaymentMetadata is the typed projection of a gateway payment object's
// metadata bag. It is parsed once at the boundary; handlers never branch on
// the presence of raw string keys.
type PaymentMetadata struct {
	Purpose   string
	OrgID     snowflake.ID
	InvoiceID snowflake.ID
	// GatewayInvoiceID is the remote invoice to re-assert as paid in the
	// overdue settlement flow.
	GatewayInvoiceID string
}

// ParsePaymentMetadata projects the raw metadata bag. A bag without a
// purpose tag yields a zero Purpose and must be treated as "not ours"; a
// bag with a purpose tag but malformed identifiers is rejected.
func ParsePaymentMetadata(raw map[string]string) (PaymentMetadata, error) {
	var meta PaymentMetadata
	if len(raw) == 0 {
		return meta, nil
	}

	meta.Purpose = strings.TrimSpace(raw[MetadataKeyPurpose])
	if meta.Purpose == "" {
		return meta, nil
	}
	switch meta.Purpose {
	case PurposePlatformOverdue, PurposeTenantInvoice, PurposePlatformSetup:
	default:
		return PaymentMetadata{}, ErrInvalidMetadata
	}

	orgID, err := parseID(raw[MetadataKeyOrgID])
	if err != nil || orgID == 0 {
		return PaymentMetadata{}, ErrInvalidMetadata
	}
	meta.OrgID = orgID

	if meta.Purpose == PurposeTenantInvoice {
		invoiceID, err := parseID(raw[MetadataKeyInvoiceID])
		if err != nil || invoiceID == 0 {
			return PaymentMetadata{}, ErrInvalidMetadata
		}
		meta.InvoiceID = invoiceID
	}

	meta.GatewayInvoiceID = strings.TrimSpace(raw["gateway_invoice_id"])
	return meta, nil
}

// SubscriptionMetadata is the typed projection of a gateway subscription's
// metadata bag.
type SubscriptionMetadata struct {
	OrgID           snowflake.ID
	PlatformBilling bool
}

// ParseSubscriptionMetadata projects the raw metadata bag. Subscriptions
// without the platform-billing tag resolve to a zero projection; they are
// not this platform's subscriptions.
func ParseSubscriptionMetadata(raw map[string]string) (SubscriptionMetadata, error) {
	var meta SubscriptionMetadata
	if len(raw) == 0 {
		return meta, nil
	}

	tagged := strings.EqualFold(strings.TrimSpace(raw[MetadataKeyPlatformBilling]), "true")
	if !tagged {
		return meta, nil
	}

	orgID, err := parseID(raw[MetadataKeyOrgID])
	if err != nil || orgID == 0 {
		return SubscriptionMetadata{}, ErrInvalidMetadata
	}
	return SubscriptionMetadata{OrgID: orgID, PlatformBilling: true}, nil
}

func parseID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return snowflake.ParseString(raw)
}
