package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/studiolane/studiolane/internal/billing/domain"
	"github.com/studiolane/studiolane/internal/billing/gateway"
	orgdomain "github.com/studiolane/studiolane/internal/organization/domain"
)

func TestIngestRejectsMissingSignature(t *testing.T) {
	env := setupEnv(t)

	payload := eventBody(t, "evt_nosig", "payment_intent.succeeded", map[string]any{"id": "pi_1"})
	err := env.svc.IngestWebhook(context.Background(), payload, http.Header{})
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if env.webhookEventCount(t) != 0 {
		t.Fatal("unverified event was stored")
	}
}

func TestIngestRejectsForgedSignature(t *testing.T) {
	env := setupEnv(t)

	payload := eventBody(t, "evt_forged", "payment_intent.succeeded", map[string]any{"id": "pi_1"})
	err := env.svc.IngestWebhook(context.Background(), payload, signedHeaders(payload, "whsec_wrong_secret"))
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if env.webhookEventCount(t) != 0 {
		t.Fatal("forged event was stored")
	}
}

func TestIngestAcknowledgesUnhandledEventType(t *testing.T) {
	env := setupEnv(t)

	if err := env.ingest(t, "evt_unhandled", "charge.refunded", map[string]any{"id": "ch_1"}); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if env.webhookEventCount(t) != 0 {
		t.Fatal("unhandled event type was stored")
	}
}

func TestPaymentFailureStartsStreak(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID, SubscriptionStatus: "active"})

	err := env.ingest(t, "evt_fail_1", "invoice.payment_failed", map[string]any{
		"id":         "in_100",
		"amount_due": 4900,
		"currency":   "usd",
		"metadata":   map[string]string{"org_id": org.ID.String()},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.FirstPaymentFailureDate == nil || !record.FirstPaymentFailureDate.Equal(env.now) {
		t.Fatalf("first failure date = %v, want %v", record.FirstPaymentFailureDate, env.now)
	}
	if record.SubscriptionStatus != domain.SubscriptionStatusPastDue {
		t.Fatalf("subscription status = %q", record.SubscriptionStatus)
	}
	if got := env.organization(t, org.ID); got.PaymentFailureCount != 1 {
		t.Fatalf("payment failure count = %d", got.PaymentFailureCount)
	}
	if len(env.notifier.warnings) != 1 || env.notifier.warnings[0].Final {
		t.Fatalf("warnings = %+v", env.notifier.warnings)
	}

	// The audit entry carries the external identifiers and amount.
	logs := env.auditLogs(t)
	if len(logs) != 1 || logs[0].Action != "billing.webhook_processed" {
		t.Fatalf("audit logs = %+v", logs)
	}
	meta := logs[0].Metadata
	if meta["gateway_invoice_id"] != "in_100" {
		t.Fatalf("audit invoice id = %v", meta["gateway_invoice_id"])
	}
	if fmt.Sprintf("%v", meta["amount_due"]) != "4900" || meta["currency"] != "usd" {
		t.Fatalf("audit amount = %v %v", meta["amount_due"], meta["currency"])
	}
}

func TestRepeatFailureKeepsFirstFailureDate(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID})

	object := map[string]any{
		"id":         "in_200",
		"amount_due": 4900,
		"currency":   "usd",
		"metadata":   map[string]string{"org_id": org.ID.String()},
	}
	if err := env.ingest(t, "evt_fail_a", "invoice.payment_failed", object); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	first := env.billingRecord(t, org.ID).FirstPaymentFailureDate

	if err := env.ingest(t, "evt_fail_b", "invoice.payment_failed", object); err != nil {
		t.Fatalf("second failure: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.FirstPaymentFailureDate == nil || !record.FirstPaymentFailureDate.Equal(*first) {
		t.Fatalf("first failure date moved: %v -> %v", first, record.FirstPaymentFailureDate)
	}
	if got := env.organization(t, org.ID); got.PaymentFailureCount != 2 {
		t.Fatalf("payment failure count = %d", got.PaymentFailureCount)
	}
}

func TestRedeliveredEventIsDeduplicated(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID})

	object := map[string]any{
		"id":         "in_300",
		"amount_due": 4900,
		"currency":   "usd",
		"metadata":   map[string]string{"org_id": org.ID.String()},
	}
	if err := env.ingest(t, "evt_dup", "invoice.payment_failed", object); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	err := env.ingest(t, "evt_dup", "invoice.payment_failed", object)
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	if got := env.organization(t, org.ID); got.PaymentFailureCount != 1 {
		t.Fatalf("redelivery changed state: failure count = %d", got.PaymentFailureCount)
	}
	if env.webhookEventCount(t) != 1 {
		t.Fatalf("webhook event rows = %d", env.webhookEventCount(t))
	}
}

func TestOverdueSettlementClearsStreakAndReactivates(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusPaused)
	failedAt := env.now.Add(-15 * 24 * time.Hour)
	paymentMethod := "pm_42"
	env.createBillingRecord(t, &domain.BillingRecord{
		OrgID:                   org.ID,
		SubscriptionStatus:      domain.SubscriptionStatusPastDue,
		FirstPaymentFailureDate: &failedAt,
		PaymentRetryCount:       3,
		WarningEmailSent:        true,
		DefaultPaymentMethodID:  &paymentMethod,
	})
	env.gw.invoices["in_overdue"] = &gateway.Invoice{
		ID:               "in_overdue",
		HostedInvoiceURL: "https://pay.example.com/in_overdue",
	}

	err := env.ingest(t, "evt_settle", "payment_intent.succeeded", map[string]any{
		"id":       "pi_settle",
		"amount":   14700,
		"currency": "usd",
		"metadata": map[string]string{
			"purpose":            "platform_overdue",
			"org_id":             org.ID.String(),
			"gateway_invoice_id": "in_overdue",
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.FirstPaymentFailureDate != nil {
		t.Fatalf("streak not cleared: %v", record.FirstPaymentFailureDate)
	}
	if record.PaymentRetryCount != 0 || record.WarningEmailSent {
		t.Fatalf("counters not reset: retries=%d warning=%v", record.PaymentRetryCount, record.WarningEmailSent)
	}

	got := env.organization(t, org.ID)
	if got.Status != orgdomain.StatusActive {
		t.Fatalf("status = %s", got.Status)
	}
	if got.PausedAt != nil || got.PausedReason != nil || got.DeactivatedAt != nil || got.DeactivatedReason != nil {
		t.Fatalf("suspension fields not cleared: %+v", got)
	}
	if got.PaymentFailureCount != 0 {
		t.Fatalf("failure count = %d", got.PaymentFailureCount)
	}
	if got.LastPaymentDate == nil {
		t.Fatal("last payment date not recorded")
	}

	if len(env.gw.paidInvoices) != 1 || env.gw.paidInvoices[0] != "in_overdue" {
		t.Fatalf("paid invoices = %v", env.gw.paidInvoices)
	}
	// The stored default payment method settles the remote invoice.
	if len(env.gw.paidWith) != 1 || env.gw.paidWith[0] != "pm_42" {
		t.Fatalf("paid with = %v", env.gw.paidWith)
	}
	if len(env.notifier.receipts) != 1 {
		t.Fatalf("receipts = %+v", env.notifier.receipts)
	}
	if env.notifier.receipts[0].ReceiptURL != "https://pay.example.com/in_overdue" {
		t.Fatalf("receipt url = %q", env.notifier.receipts[0].ReceiptURL)
	}
}

func TestSettlementFailureRollsBackSuspensionState(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusPaused)
	failedAt := env.now.Add(-10 * 24 * time.Hour)
	env.createBillingRecord(t, &domain.BillingRecord{
		OrgID:                   org.ID,
		SubscriptionStatus:      domain.SubscriptionStatusPastDue,
		FirstPaymentFailureDate: &failedAt,
	})
	env.gw.panicPay = true

	err := env.ingest(t, "evt_settle_boom", "payment_intent.succeeded", map[string]any{
		"id":       "pi_boom",
		"amount":   14700,
		"currency": "usd",
		"metadata": map[string]string{
			"purpose":            "platform_overdue",
			"org_id":             org.ID.String(),
			"gateway_invoice_id": "in_boom",
		},
	})
	if !errors.Is(err, domain.ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}

	// The reactivation and streak-clear happened before the failure; all of
	// it must roll back with the event row so redelivery starts clean.
	got := env.organization(t, org.ID)
	if got.Status != orgdomain.StatusPaused || got.PausedAt == nil {
		t.Fatalf("suspension state did not survive rollback: %+v", got)
	}
	record := env.billingRecord(t, org.ID)
	if record.FirstPaymentFailureDate == nil {
		t.Fatal("failure streak did not survive rollback")
	}
	if env.webhookEventCount(t) != 0 {
		t.Fatal("failed event left a stored row")
	}
	if logs := env.auditLogs(t); len(logs) != 0 {
		t.Fatalf("audit rows survived rollback: %+v", logs)
	}
}

func TestOverdueSettlementRedeliveryConverges(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusPaused)
	failedAt := env.now.Add(-5 * 24 * time.Hour)
	env.createBillingRecord(t, &domain.BillingRecord{
		OrgID:                   org.ID,
		FirstPaymentFailureDate: &failedAt,
	})

	object := map[string]any{
		"id":       "pi_retry",
		"amount":   4900,
		"currency": "usd",
		"metadata": map[string]string{
			"purpose": "platform_overdue",
			"org_id":  org.ID.String(),
		},
	}
	if err := env.ingest(t, "evt_settle_a", "payment_intent.succeeded", object); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Same settlement under a fresh event id converges to the same state.
	if err := env.ingest(t, "evt_settle_b", "payment_intent.succeeded", object); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	got := env.organization(t, org.ID)
	if got.Status != orgdomain.StatusActive || got.PaymentFailureCount != 0 {
		t.Fatalf("state diverged: %+v", got)
	}
	if record := env.billingRecord(t, org.ID); record.FirstPaymentFailureDate != nil {
		t.Fatal("streak came back")
	}
}

func TestTenantInvoiceSettlementMarksInvoicePaid(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	invoiceID := env.node.Generate()
	gatewayInvoiceID := "in_tenant"
	if err := env.db.Create(&domain.Invoice{
		ID:               invoiceID,
		OrgID:            org.ID,
		GatewayInvoiceID: &gatewayInvoiceID,
		Amount:           2500,
		Currency:         "usd",
		Status:           domain.InvoiceStatusOpen,
	}).Error; err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	intentID := "pi_tenant"
	if err := env.db.Create(&domain.Payment{
		ID:                     env.node.Generate(),
		OrgID:                  org.ID,
		InvoiceID:              &invoiceID,
		GatewayPaymentIntentID: &intentID,
		Status:                 domain.PaymentStatusPending,
	}).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	err := env.ingest(t, "evt_tenant", "payment_intent.succeeded", map[string]any{
		"id":             intentID,
		"amount":         2500,
		"currency":       "usd",
		"payment_method": "pm_tenant",
		"metadata": map[string]string{
			"purpose":    "tenant_invoice",
			"org_id":     org.ID.String(),
			"invoice_id": invoiceID.String(),
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var invoice domain.Invoice
	if err := env.db.First(&invoice, "id = ?", invoiceID).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if invoice.Status != domain.InvoiceStatusPaid || invoice.PaidAt == nil {
		t.Fatalf("invoice = %+v", invoice)
	}
	if invoice.PaymentMethodLabel == nil || *invoice.PaymentMethodLabel != "pm_tenant" {
		t.Fatalf("invoice payment method label = %v", invoice.PaymentMethodLabel)
	}
	var payment domain.Payment
	if err := env.db.First(&payment, "gateway_payment_intent_id = ?", intentID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("payment status = %q", payment.Status)
	}
	if payment.MethodLabel == nil || *payment.MethodLabel != "pm_tenant" {
		t.Fatalf("payment method label = %v", payment.MethodLabel)
	}
	// Tenant invoice settlement does not touch the platform streak.
	if got := env.organization(t, org.ID); got.Status != orgdomain.StatusActive {
		t.Fatalf("org status = %s", got.Status)
	}
}

func TestUnattributableInvoiceIsAcknowledgedUnchanged(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID})

	err := env.ingest(t, "evt_mystery", "invoice.payment_failed", map[string]any{
		"id":         "in_mystery",
		"amount_due": 900,
		"currency":   "usd",
	})
	if err != nil {
		t.Fatalf("expected ack, got %v", err)
	}

	if record := env.billingRecord(t, org.ID); record.FirstPaymentFailureDate != nil {
		t.Fatal("unattributable invoice started a streak")
	}
	if got := env.organization(t, org.ID); got.PaymentFailureCount != 0 {
		t.Fatalf("failure count = %d", got.PaymentFailureCount)
	}
	// The event is still stored and marked processed so redelivery dedupes.
	if env.webhookEventCount(t) != 1 {
		t.Fatalf("webhook event rows = %d", env.webhookEventCount(t))
	}
	// A no-op leaves no audit trace.
	if logs := env.auditLogs(t); len(logs) != 0 {
		t.Fatalf("no-op event wrote audit rows: %+v", logs)
	}
}

func TestInvoiceResolvedThroughParentSubscription(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID})
	env.gw.subscriptions["sub_77"] = &gateway.Subscription{
		ID:     "sub_77",
		Status: "past_due",
		Metadata: map[string]string{
			"platform_billing": "true",
			"org_id":           org.ID.String(),
		},
	}

	err := env.ingest(t, "evt_parent", "invoice.payment_failed", map[string]any{
		"id":         "in_parent",
		"amount_due": 4900,
		"currency":   "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_77",
			},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if record := env.billingRecord(t, org.ID); record.FirstPaymentFailureDate == nil {
		t.Fatal("streak not started via subscription resolution")
	}
	healed, ok := env.gw.healed["in_parent"]
	if !ok || healed["org_id"] != org.ID.String() {
		t.Fatalf("invoice not self-healed: %v", env.gw.healed)
	}
}

func TestNonPlatformSubscriptionInvoiceIgnored(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createBillingRecord(t, &domain.BillingRecord{OrgID: org.ID})
	// Subscription exists at the gateway but carries no platform tag.
	env.gw.subscriptions["sub_other"] = &gateway.Subscription{
		ID:       "sub_other",
		Status:   "past_due",
		Metadata: map[string]string{"customer_ref": "someone-else"},
	}

	err := env.ingest(t, "evt_other", "invoice.payment_failed", map[string]any{
		"id":         "in_other",
		"amount_due": 100,
		"currency":   "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_other",
			},
		},
	})
	if err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if record := env.billingRecord(t, org.ID); record.FirstPaymentFailureDate != nil {
		t.Fatal("foreign subscription invoice started a streak")
	}
}

func TestSubscriptionStatusMirroredVerbatim(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)

	err := env.ingest(t, "evt_sub_upd", "customer.subscription.updated", map[string]any{
		"id":       "sub_55",
		"customer": "cus_55",
		"status":   "incomplete_expired",
		"metadata": map[string]string{
			"platform_billing": "true",
			"org_id":           org.ID.String(),
		},
		"items": map[string]any{
			"data": []map[string]any{{"id": "si_55"}},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.SubscriptionStatus != "incomplete_expired" {
		t.Fatalf("status = %q, want the gateway value verbatim", record.SubscriptionStatus)
	}
	if record.GatewaySubscriptionID == nil || *record.GatewaySubscriptionID != "sub_55" {
		t.Fatalf("subscription id = %v", record.GatewaySubscriptionID)
	}
	if record.GatewaySubscriptionItemID == nil || *record.GatewaySubscriptionItemID != "si_55" {
		t.Fatalf("subscription item id = %v", record.GatewaySubscriptionItemID)
	}
}

func TestSubscriptionUpdateNeverReactivatesOrganization(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusDeactivated)

	err := env.ingest(t, "evt_sub_active", "customer.subscription.updated", map[string]any{
		"id":       "sub_66",
		"customer": "cus_66",
		"status":   "active",
		"metadata": map[string]string{
			"platform_billing": "true",
			"org_id":           org.ID.String(),
		},
		"items": map[string]any{
			"data": []map[string]any{{"id": "si_66"}},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// The mirror lands, but only a settlement may reactivate.
	record := env.billingRecord(t, org.ID)
	if record.SubscriptionStatus != "active" {
		t.Fatalf("status = %q", record.SubscriptionStatus)
	}
	got := env.organization(t, org.ID)
	if got.Status != orgdomain.StatusDeactivated || got.DeactivatedAt == nil {
		t.Fatalf("lifecycle event touched the organization: %+v", got)
	}
}

func TestSubscriptionDeletedClearsIdentifiers(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	subID := "sub_gone"
	itemID := "si_gone"
	env.createBillingRecord(t, &domain.BillingRecord{
		OrgID:                     org.ID,
		GatewaySubscriptionID:     &subID,
		GatewaySubscriptionItemID: &itemID,
		SubscriptionStatus:        "active",
	})

	// No metadata on the deletion payload; resolution goes through the
	// stored subscription id.
	err := env.ingest(t, "evt_sub_del", "customer.subscription.deleted", map[string]any{
		"id":     subID,
		"status": "canceled",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.GatewaySubscriptionID != nil || record.GatewaySubscriptionItemID != nil {
		t.Fatalf("identifiers not cleared: %+v", record)
	}
	if record.SubscriptionStatus != domain.SubscriptionStatusCanceled {
		t.Fatalf("status = %q", record.SubscriptionStatus)
	}
}

func TestSetupCompletedCreatesPlatformSubscription(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.createMembers(t, org.ID, 7)

	err := env.ingest(t, "evt_setup", "setup_intent.succeeded", map[string]any{
		"id":             "seti_1",
		"customer":       "cus_new",
		"payment_method": "pm_new",
		"metadata": map[string]string{
			"purpose": "platform_setup",
			"org_id":  org.ID.String(),
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	record := env.billingRecord(t, org.ID)
	if record.GatewayCustomerID == nil || *record.GatewayCustomerID != "cus_new" {
		t.Fatalf("customer = %v", record.GatewayCustomerID)
	}
	if record.DefaultPaymentMethodID == nil || *record.DefaultPaymentMethodID != "pm_new" {
		t.Fatalf("payment method = %v", record.DefaultPaymentMethodID)
	}
	if record.GatewaySubscriptionID == nil || *record.GatewaySubscriptionID == "" {
		t.Fatal("platform subscription not recorded")
	}
	if record.LastBilledMemberCount != 7 {
		t.Fatalf("billed member count = %d", record.LastBilledMemberCount)
	}

	if len(env.gw.created) != 1 {
		t.Fatalf("created subscriptions = %+v", env.gw.created)
	}
	created := env.gw.created[0]
	if created.Quantity != 7 || created.PriceID != "price_platform" {
		t.Fatalf("created = %+v", created)
	}
	if created.Metadata["org_id"] != org.ID.String() || created.Metadata["platform_billing"] != "true" {
		t.Fatalf("metadata = %v", created.Metadata)
	}
	if len(env.gw.defaults) != 1 || env.gw.defaults[0] != "pm_new" {
		t.Fatalf("defaults = %v", env.gw.defaults)
	}
}

func TestSetupCompletedKeepsExistingSubscription(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	subID := "sub_existing"
	env.createBillingRecord(t, &domain.BillingRecord{
		OrgID:                 org.ID,
		GatewaySubscriptionID: &subID,
		SubscriptionStatus:    "active",
	})

	err := env.ingest(t, "evt_setup_2", "setup_intent.succeeded", map[string]any{
		"id":             "seti_2",
		"customer":       "cus_existing",
		"payment_method": "pm_replacement",
		"metadata": map[string]string{
			"purpose": "platform_setup",
			"org_id":  org.ID.String(),
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if len(env.gw.created) != 0 {
		t.Fatalf("unexpected subscription created: %+v", env.gw.created)
	}
	record := env.billingRecord(t, org.ID)
	if record.DefaultPaymentMethodID == nil || *record.DefaultPaymentMethodID != "pm_replacement" {
		t.Fatalf("payment method = %v", record.DefaultPaymentMethodID)
	}
	if record.GatewaySubscriptionID == nil || *record.GatewaySubscriptionID != subID {
		t.Fatalf("subscription id = %v", record.GatewaySubscriptionID)
	}
}

func TestHandlerPanicRollsBackAndReportsError(t *testing.T) {
	env := setupEnv(t)
	org := env.createOrg(t, orgdomain.StatusActive)
	env.gw.panicCreate = true

	err := env.ingest(t, "evt_panic", "setup_intent.succeeded", map[string]any{
		"id":             "seti_boom",
		"customer":       "cus_boom",
		"payment_method": "pm_boom",
		"metadata": map[string]string{
			"purpose": "platform_setup",
			"org_id":  org.ID.String(),
		},
	})
	if !errors.Is(err, domain.ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}
	// Rolled back entirely; redelivery processes the event from scratch.
	if env.webhookEventCount(t) != 0 {
		t.Fatal("panicking event left a stored row")
	}
}
