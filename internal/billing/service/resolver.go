package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// resolveInvoiceOrg attributes a gateway invoice to an organization.
//
// Resolution order: the invoice's own metadata, the subscription metadata
// snapshot embedded in the payload, a gateway read of the parent
// subscription, and finally the local billing record keyed on the
// subscription id. When resolution succeeds through the subscription path
// the invoice is self-healed with an org_id tag so the next event resolves
// directly. A zero return means the invoice is not attributable and the
// event must be acknowledged without changes.
func (s *Service) resolveInvoiceOrg(ctx context.Context, tx *gorm.DB, inv invoiceObject) (snowflake.ID, error) {
	if orgID := orgIDFromMetadata(inv.Metadata); orgID != 0 {
		return orgID, nil
	}

	if meta, err := domain.ParseSubscriptionMetadata(inv.subscriptionMetadata()); err == nil && meta.PlatformBilling {
		s.healInvoiceAttribution(ctx, inv.ID, meta.OrgID)
		return meta.OrgID, nil
	}

	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		return 0, nil
	}

	if sub, err := s.gateway.GetSubscription(ctx, subscriptionID); err == nil {
		if meta, err := domain.ParseSubscriptionMetadata(sub.Metadata); err == nil && meta.PlatformBilling {
			s.healInvoiceAttribution(ctx, inv.ID, meta.OrgID)
			return meta.OrgID, nil
		}
	} else {
		s.log.Warn("subscription lookup failed during invoice resolution",
			zap.String("gateway_invoice_id", inv.ID),
			zap.String("gateway_subscription_id", subscriptionID),
			zap.Error(err),
		)
	}

	record, err := s.repo.FindRecordBySubscription(ctx, tx, subscriptionID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.healInvoiceAttribution(ctx, inv.ID, record.OrgID)
	return record.OrgID, nil
}

func (s *Service) healInvoiceAttribution(ctx context.Context, gatewayInvoiceID string, orgID snowflake.ID) {
	if err := s.gateway.UpdateInvoiceMetadata(ctx, gatewayInvoiceID, map[string]string{
		domain.MetadataKeyOrgID: orgID.String(),
	}); err != nil {
		s.log.Warn("invoice attribution heal failed",
			zap.String("gateway_invoice_id", gatewayInvoiceID),
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
}

func orgIDFromMetadata(metadata map[string]string) snowflake.ID {
	raw := strings.TrimSpace(metadata[domain.MetadataKeyOrgID])
	if raw == "" {
		return 0
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return orgID
}
