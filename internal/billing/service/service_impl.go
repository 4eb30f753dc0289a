package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	auditdomain "github.com/studiolane/studiolane/internal/audit/domain"
	"github.com/studiolane/studiolane/internal/auditcontext"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"github.com/studiolane/studiolane/internal/billing/gateway"
	"github.com/studiolane/studiolane/internal/clock"
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/events"
	"github.com/studiolane/studiolane/internal/notify"
	"github.com/studiolane/studiolane/internal/observability/metrics"
	orgdomain "github.com/studiolane/studiolane/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const providerStripe = "stripe"

// Signature header carried on every gateway webhook request.
const signatureHeader = "Stripe-Signature"

// Gateway event types this service reconciles. Everything else is
// acknowledged without processing.
const (
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventInvoicePaymentFailed   = "invoice.payment_failed"
	eventSubscriptionCreated    = "customer.subscription.created"
	eventSubscriptionUpdated    = "customer.subscription.updated"
	eventSubscriptionDeleted    = "customer.subscription.deleted"
	eventSetupIntentSucceeded   = "setup_intent.succeeded"
)

var acceptedEventTypes = []string{
	eventSubscriptionCreated,
	eventSubscriptionDeleted,
	eventSubscriptionUpdated,
	eventInvoicePaymentFailed,
	eventPaymentIntentSucceeded,
	eventSetupIntentSucceeded,
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Gateway  gateway.Gateway
	Orgs     orgdomain.Service
	AuditSvc auditdomain.Service
	Notifier notify.Notifier
	Outbox   *events.Outbox
	Metrics  *metrics.WebhookMetrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	gateway  gateway.Gateway
	orgs     orgdomain.Service
	auditSvc auditdomain.Service
	notifier notify.Notifier
	outbox   *events.Outbox
	metrics  *metrics.WebhookMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		cfg:      p.Config,
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		gateway:  p.Gateway,
		orgs:     p.Orgs,
		auditSvc: p.AuditSvc,
		notifier: p.Notifier,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
	}
}

// withTx rebinds the collaborating services to an open transaction, so
// organization transitions and audit rows commit or roll back with the
// event store row.
func (s *Service) withTx(tx *gorm.DB) *Service {
	bound := *s
	bound.orgs = s.orgs.WithTx(tx)
	bound.auditSvc = s.auditSvc.WithTx(tx)
	return &bound
}

func (s *Service) AcceptedEventTypes() []string {
	out := make([]string, len(acceptedEventTypes))
	copy(out, acceptedEventTypes)
	return out
}

// IngestWebhook verifies, stores, and dispatches one gateway notification.
// Verification runs over the exact raw payload before anything is parsed.
// The event store insert and every local mutation share one transaction, so
// a failed handler leaves no trace and the gateway's redelivery retries the
// whole event.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	start := s.clock.Now()

	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		s.observe("unknown", "missing_signature", start)
		return domain.ErrInvalidSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.Stripe.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			s.log.Warn("webhook signature rejected", zap.Error(err))
			s.observe("unknown", "invalid_signature", start)
			return domain.ErrInvalidSignature
		}
		s.log.Warn("webhook payload rejected", zap.Error(err))
		s.observe("unknown", "invalid_payload", start)
		return domain.ErrInvalidPayload
	}

	eventType := string(evt.Type)
	if !s.handles(eventType) {
		s.log.Debug("webhook event type not handled",
			zap.String("event_id", evt.ID),
			zap.String("event_type", eventType),
		)
		s.observe(eventType, "ignored", start)
		return nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		record := &domain.WebhookEvent{
			ID:              s.genID.Generate(),
			Provider:        providerStripe,
			ProviderEventID: evt.ID,
			EventType:       eventType,
			Payload:         datatypes.JSON(payload),
			ReceivedAt:      start.UTC(),
		}
		inserted, err := s.repo.InsertWebhookEvent(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindWebhookEvent(ctx, tx, providerStripe, evt.ID)
			if err != nil {
				return err
			}
			if existing == nil || existing.ProcessedAt != nil {
				return domain.ErrEventAlreadyProcessed
			}
			// Stored but never finished; process it now.
			record = existing
		}

		ctx := auditcontext.WithWebhookEventID(ctx, record.ID.String())
		ctx = auditcontext.WithActor(ctx, "system", providerStripe)

		txSvc := s.withTx(tx)
		orgID, detail, err := txSvc.dispatch(ctx, tx, evt)
		if err != nil {
			return err
		}

		txSvc.writeAuditLog(ctx, orgID, evt, detail)
		return s.repo.MarkWebhookProcessed(ctx, tx, record.ID, orgID, s.clock.Now())
	})
	switch {
	case errors.Is(err, domain.ErrEventAlreadyProcessed):
		s.log.Debug("webhook event redelivered",
			zap.String("event_id", evt.ID),
			zap.String("event_type", eventType),
		)
		s.observe(eventType, "duplicate", start)
		return err
	case err != nil:
		s.log.Error("webhook event processing failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		s.observe(eventType, "error", start)
		return err
	}

	s.observe(eventType, "processed", start)
	return nil
}

func (s *Service) handles(eventType string) bool {
	for _, accepted := range acceptedEventTypes {
		if accepted == eventType {
			return true
		}
	}
	return false
}

func (s *Service) observe(eventType, outcome string, start time.Time) {
	s.metrics.ObserveEvent(eventType, outcome, s.clock.Now().Sub(start))
}

// dispatch routes one verified event to its handler. Handlers return the
// organization they resolved plus the external identifiers for the audit
// entry; a nil organization means the event was acknowledged as a no-op. A
// handler panic is contained here and surfaces as ErrHandlerPanic so the
// transaction rolls back and the response stays well formed.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, evt stripe.Event) (orgID *snowflake.ID, detail map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("webhook handler panic",
				zap.String("event_id", evt.ID),
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			orgID = nil
			detail = nil
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)
		}
	}()

	switch string(evt.Type) {
	case eventPaymentIntentSucceeded:
		return s.handlePaymentSucceeded(ctx, tx, evt)
	case eventInvoicePaymentFailed:
		return s.handlePaymentFailed(ctx, tx, evt)
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		return s.handleSubscriptionChanged(ctx, tx, evt)
	case eventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, tx, evt)
	case eventSetupIntentSucceeded:
		return s.handleSetupCompleted(ctx, tx, evt)
	}
	return nil, nil, nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, tx *gorm.DB, evt stripe.Event) (*snowflake.ID, map[string]any, error) {
	var pi paymentIntentObject
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, nil, fmt.Errorf("%w: payment intent: %v", domain.ErrInvalidPayload, err)
	}

	meta, err := domain.ParsePaymentMetadata(pi.Metadata)
	if err != nil {
		s.log.Warn("payment metadata rejected",
			zap.String("event_id", evt.ID),
			zap.String("payment_intent_id", pi.ID),
			zap.Error(err),
		)
		return nil, nil, nil
	}
	if meta.Purpose == "" {
		// Not a platform payment.
		return nil, nil, nil
	}

	org, err := s.orgs.Get(ctx, meta.OrgID)
	if errors.Is(err, orgdomain.ErrNotFound) {
		s.log.Warn("payment references unknown organization",
			zap.String("event_id", evt.ID),
			zap.String("org_id", meta.OrgID.String()),
		)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	orgID := org.ID
	now := s.clock.Now()

	if _, err := s.repo.MarkPaymentSucceeded(ctx, tx, pi.ID, now, pi.PaymentMethod); err != nil {
		return nil, nil, err
	}

	switch meta.Purpose {
	case domain.PurposePlatformOverdue:
		if err := s.settleOverdue(ctx, tx, org, pi, meta, evt.ID, now); err != nil {
			return nil, nil, err
		}
	case domain.PurposeTenantInvoice:
		if err := s.settleTenantInvoice(ctx, tx, orgID, pi, meta, evt.ID, now); err != nil {
			return nil, nil, err
		}
	case domain.PurposePlatformSetup:
		if err := s.repo.EnsureRecord(ctx, tx, &domain.BillingRecord{
			ID:                s.genID.Generate(),
			OrgID:             orgID,
			GatewayCustomerID: optional(pi.Customer),
		}); err != nil {
			return nil, nil, err
		}
	}

	detail := map[string]any{
		"payment_intent_id": pi.ID,
		"amount":            pi.Amount,
		"currency":          pi.Currency,
		"purpose":           meta.Purpose,
	}
	if meta.GatewayInvoiceID != "" {
		detail["gateway_invoice_id"] = meta.GatewayInvoiceID
	}
	if meta.InvoiceID != 0 {
		detail["invoice_id"] = meta.InvoiceID.String()
	}
	return &orgID, detail, nil
}

// settleOverdue resolves a failure streak. Clearing the streak and
// reactivating the organization are both conditional updates, so a
// redelivered settlement converges without side effects.
func (s *Service) settleOverdue(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, pi paymentIntentObject, meta domain.PaymentMetadata, eventID string, now time.Time) error {
	if err := s.repo.ClearFailureStreak(ctx, tx, org.ID, "active", now); err != nil {
		return err
	}
	if err := s.orgs.Reactivate(ctx, org.ID, now); err != nil {
		return err
	}

	record, recordErr := s.repo.FindRecordByOrg(ctx, tx, org.ID)

	if meta.GatewayInvoiceID != "" {
		paymentMethod := pi.PaymentMethod
		if paymentMethod == "" && recordErr == nil && record.DefaultPaymentMethodID != nil {
			paymentMethod = *record.DefaultPaymentMethodID
		}
		if err := s.gateway.PayInvoice(ctx, meta.GatewayInvoiceID, paymentMethod); err != nil {
			// The streak is already cleared locally; the remote invoice
			// catches up on the next gateway read.
			s.log.Warn("gateway invoice settlement failed",
				zap.String("org_id", org.ID.String()),
				zap.String("gateway_invoice_id", meta.GatewayInvoiceID),
				zap.Error(err),
			)
		}
	}

	// After settlement the gateway may already report the subscription
	// active again; mirror whatever it says now.
	if recordErr == nil && record.GatewaySubscriptionID != nil && *record.GatewaySubscriptionID != "" {
		if sub, err := s.gateway.GetSubscription(ctx, *record.GatewaySubscriptionID); err == nil {
			if err := s.repo.SetSubscriptionStatus(ctx, tx, org.ID, sub.Status); err != nil {
				return err
			}
		} else {
			s.log.Debug("subscription status read skipped after settlement",
				zap.String("org_id", org.ID.String()),
				zap.Error(err),
			)
		}
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: org.ID,
		Type:  events.EventOverdueSettled,
		Payload: events.PaymentEventPayload{
			OrgID:           org.ID.String(),
			ProviderEventID: eventID,
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
		}.ToMap(),
		DedupeKey: events.EventOverdueSettled + ":" + eventID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}

	receiptURL := ""
	if meta.GatewayInvoiceID != "" {
		if inv, err := s.gateway.GetInvoice(ctx, meta.GatewayInvoiceID); err == nil && inv != nil {
			receiptURL = inv.HostedInvoiceURL
		}
	}
	if err := s.notifier.SendPaymentReceipt(ctx, recipientFor(org), notify.Receipt{
		Amount:     pi.Amount,
		Currency:   pi.Currency,
		ReceiptURL: receiptURL,
		PaidAt:     now.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("receipt notification failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Info("overdue balance settled",
		zap.String("org_id", org.ID.String()),
		zap.String("payment_intent_id", pi.ID),
	)
	return nil
}

func (s *Service) settleTenantInvoice(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, pi paymentIntentObject, meta domain.PaymentMetadata, eventID string, now time.Time) error {
	updated, err := s.repo.MarkInvoicePaid(ctx, tx, orgID, meta.InvoiceID, now, pi.PaymentMethod)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Debug("invoice already settled",
			zap.String("org_id", orgID.String()),
			zap.String("invoice_id", meta.InvoiceID.String()),
		)
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventPaymentSettled,
		Payload: events.PaymentEventPayload{
			OrgID:           orgID.String(),
			ProviderEventID: eventID,
			PaymentIntentID: pi.ID,
			InvoiceID:       meta.InvoiceID.String(),
			Amount:          pi.Amount,
			Currency:        pi.Currency,
		}.ToMap(),
		DedupeKey: events.EventPaymentSettled + ":" + eventID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, tx *gorm.DB, evt stripe.Event) (*snowflake.ID, map[string]any, error) {
	var inv invoiceObject
	if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
		return nil, nil, fmt.Errorf("%w: invoice: %v", domain.ErrInvalidPayload, err)
	}

	orgID, err := s.resolveInvoiceOrg(ctx, tx, inv)
	if err != nil {
		return nil, nil, err
	}
	if orgID == 0 {
		s.log.Warn("payment failure for unattributable invoice",
			zap.String("event_id", evt.ID),
			zap.String("gateway_invoice_id", inv.ID),
		)
		return nil, nil, nil
	}

	org, err := s.orgs.Get(ctx, orgID)
	if errors.Is(err, orgdomain.ErrNotFound) {
		s.log.Warn("payment failure references unknown organization",
			zap.String("event_id", evt.ID),
			zap.String("org_id", orgID.String()),
		)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()

	began, err := s.repo.BeginFailureStreak(ctx, tx, orgID, now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.SetSubscriptionStatus(ctx, tx, orgID, domain.SubscriptionStatusPastDue); err != nil {
		return nil, nil, err
	}
	if err := s.orgs.RecordPaymentFailure(ctx, orgID); err != nil {
		return nil, nil, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventPaymentFailed,
		Payload: events.PaymentEventPayload{
			OrgID:           orgID.String(),
			ProviderEventID: evt.ID,
			Amount:          inv.AmountDue,
			Currency:        inv.Currency,
		}.ToMap(),
		DedupeKey: events.EventPaymentFailed + ":" + evt.ID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}

	if err := s.notifier.SendPaymentFailureWarning(ctx, recipientFor(org), notify.FailureWarning{
		Amount:   inv.AmountDue,
		Currency: inv.Currency,
		FailedAt: now.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("failure notification failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}

	if began {
		s.log.Warn("payment failure streak started",
			zap.String("org_id", orgID.String()),
			zap.String("gateway_invoice_id", inv.ID),
		)
	}
	return &orgID, map[string]any{
		"gateway_invoice_id": inv.ID,
		"amount_due":         inv.AmountDue,
		"currency":           inv.Currency,
		"streak_started":     began,
	}, nil
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, tx *gorm.DB, evt stripe.Event) (*snowflake.ID, map[string]any, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		return nil, nil, fmt.Errorf("%w: subscription: %v", domain.ErrInvalidPayload, err)
	}

	meta, err := domain.ParseSubscriptionMetadata(sub.Metadata)
	if err != nil {
		s.log.Warn("subscription metadata rejected",
			zap.String("event_id", evt.ID),
			zap.String("gateway_subscription_id", sub.ID),
			zap.Error(err),
		)
		return nil, nil, nil
	}
	if !meta.PlatformBilling {
		return nil, nil, nil
	}
	orgID := meta.OrgID

	if err := s.repo.EnsureRecord(ctx, tx, &domain.BillingRecord{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		GatewayCustomerID: optional(sub.Customer),
	}); err != nil {
		return nil, nil, err
	}
	// The gateway-reported status is mirrored verbatim; no local vocabulary
	// is imposed on it.
	if err := s.repo.SetSubscription(ctx, tx, orgID, sub.ID, sub.firstItemID(), sub.Status); err != nil {
		return nil, nil, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventSubscriptionMirrored,
		Payload: map[string]any{
			"org_id":            orgID.String(),
			"provider_event_id": evt.ID,
			"subscription_id":   sub.ID,
			"status":            sub.Status,
		},
		DedupeKey: events.EventSubscriptionMirrored + ":" + evt.ID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	return &orgID, map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
	}, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, evt stripe.Event) (*snowflake.ID, map[string]any, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		return nil, nil, fmt.Errorf("%w: subscription: %v", domain.ErrInvalidPayload, err)
	}

	var orgID snowflake.ID
	if meta, err := domain.ParseSubscriptionMetadata(sub.Metadata); err == nil && meta.PlatformBilling {
		orgID = meta.OrgID
	} else {
		record, err := s.repo.FindRecordBySubscription(ctx, tx, sub.ID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			s.log.Debug("deleted subscription is not tracked",
				zap.String("event_id", evt.ID),
				zap.String("gateway_subscription_id", sub.ID),
			)
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		orgID = record.OrgID
	}

	if err := s.repo.ClearSubscription(ctx, tx, orgID); err != nil {
		return nil, nil, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventSubscriptionCanceled,
		Payload: map[string]any{
			"org_id":            orgID.String(),
			"provider_event_id": evt.ID,
			"subscription_id":   sub.ID,
		},
		DedupeKey: events.EventSubscriptionCanceled + ":" + evt.ID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}

	s.log.Info("subscription canceled",
		zap.String("org_id", orgID.String()),
		zap.String("gateway_subscription_id", sub.ID),
	)
	return &orgID, map[string]any{"subscription_id": sub.ID}, nil
}

func (s *Service) handleSetupCompleted(ctx context.Context, tx *gorm.DB, evt stripe.Event) (*snowflake.ID, map[string]any, error) {
	var si setupIntentObject
	if err := json.Unmarshal(evt.Data.Raw, &si); err != nil {
		return nil, nil, fmt.Errorf("%w: setup intent: %v", domain.ErrInvalidPayload, err)
	}

	meta, err := domain.ParsePaymentMetadata(si.Metadata)
	if err != nil {
		s.log.Warn("setup intent metadata rejected",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
		return nil, nil, nil
	}
	if meta.Purpose != domain.PurposePlatformSetup {
		return nil, nil, nil
	}
	if si.Customer == "" || si.PaymentMethod == "" {
		s.log.Warn("setup intent missing customer or payment method",
			zap.String("event_id", evt.ID),
		)
		return nil, nil, nil
	}

	org, err := s.orgs.Get(ctx, meta.OrgID)
	if errors.Is(err, orgdomain.ErrNotFound) {
		s.log.Warn("setup intent references unknown organization",
			zap.String("event_id", evt.ID),
			zap.String("org_id", meta.OrgID.String()),
		)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	orgID := org.ID
	now := s.clock.Now()

	// The setup flow usually attaches the payment method already; a repeat
	// attach is harmless and logged only.
	if err := s.gateway.AttachPaymentMethod(ctx, si.Customer, si.PaymentMethod); err != nil {
		s.log.Debug("payment method attach skipped",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, si.Customer, si.PaymentMethod); err != nil {
		return nil, nil, err
	}

	if err := s.repo.EnsureRecord(ctx, tx, &domain.BillingRecord{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		GatewayCustomerID: optional(si.Customer),
	}); err != nil {
		return nil, nil, err
	}
	if err := s.repo.SetPaymentMethod(ctx, tx, orgID, si.Customer, si.PaymentMethod); err != nil {
		return nil, nil, err
	}

	record, err := s.repo.FindRecordByOrg(ctx, tx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if record.GatewaySubscriptionID == nil || *record.GatewaySubscriptionID == "" {
		if err := s.startPlatformSubscription(ctx, tx, orgID, si.Customer, now); err != nil {
			return nil, nil, err
		}
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		OrgID: orgID,
		Type:  events.EventBillingSetupCompleted,
		Payload: map[string]any{
			"org_id":            orgID.String(),
			"provider_event_id": evt.ID,
			"customer_id":       si.Customer,
		},
		DedupeKey: events.EventBillingSetupCompleted + ":" + evt.ID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}

	s.log.Info("billing setup completed", zap.String("org_id", orgID.String()))
	return &orgID, map[string]any{
		"setup_intent_id":   si.ID,
		"customer_id":       si.Customer,
		"payment_method_id": si.PaymentMethod,
	}, nil
}

// startPlatformSubscription creates the per-member platform subscription for
// an organization that has none. Quantity is the current active member
// count.
func (s *Service) startPlatformSubscription(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, customerID string, now time.Time) error {
	priceID := strings.TrimSpace(s.cfg.Stripe.PlatformPriceID)
	if priceID == "" {
		s.log.Warn("platform price not configured, subscription not created",
			zap.String("org_id", orgID.String()),
		)
		return nil
	}

	count, err := s.orgs.CountActiveMembers(ctx, orgID)
	if err != nil {
		return err
	}

	sub, err := s.gateway.CreateSubscription(ctx, customerID, priceID, count, map[string]string{
		domain.MetadataKeyOrgID:           orgID.String(),
		domain.MetadataKeyPlatformBilling: "true",
	})
	if err != nil {
		return err
	}

	if err := s.repo.SetSubscription(ctx, tx, orgID, sub.ID, sub.ItemID, sub.Status); err != nil {
		return err
	}
	return s.repo.SetLastBilled(ctx, tx, orgID, now, int(count))
}

// writeAuditLog appends the per-event audit entry with the external
// identifiers and amounts the handler resolved. Events that no-opped
// (nil organization) leave no audit trace.
func (s *Service) writeAuditLog(ctx context.Context, orgID *snowflake.ID, evt stripe.Event, detail map[string]any) {
	if orgID == nil {
		return
	}
	metadata := map[string]any{"event_type": string(evt.Type)}
	for key, value := range detail {
		metadata[key] = value
	}
	targetID := evt.ID
	if err := s.auditSvc.AuditLog(ctx, orgID, "system", nil,
		"billing.webhook_processed", "webhook_event", &targetID,
		metadata,
	); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}

func recipientFor(org *orgdomain.Organization) notify.Recipient {
	return notify.Recipient{
		OrgID:   org.ID.String(),
		OrgName: org.Name,
		Email:   org.BillingEmail,
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
