package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studiolane/studiolane/internal/audit/domain"
	auditrepo "github.com/studiolane/studiolane/internal/audit/repository"
	auditservice "github.com/studiolane/studiolane/internal/audit/service"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"github.com/studiolane/studiolane/internal/billing/gateway"
	billingrepo "github.com/studiolane/studiolane/internal/billing/repository"
	"github.com/studiolane/studiolane/internal/clock"
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/events"
	"github.com/studiolane/studiolane/internal/notify"
	"github.com/studiolane/studiolane/internal/observability/metrics"
	orgdomain "github.com/studiolane/studiolane/internal/organization/domain"
	orgrepo "github.com/studiolane/studiolane/internal/organization/repository"
	orgservice "github.com/studiolane/studiolane/internal/organization/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type testEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	now      time.Time
	svc      domain.Service
	repo     domain.Repository
	orgs     orgdomain.Service
	gw       *fakeGateway
	notifier *fakeNotifier
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.Member{},
		&auditdomain.AuditLog{},
		&domain.BillingRecord{},
		&domain.Payment{},
		&domain.Invoice{},
		&domain.WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS billing_events (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create billing_events: %v", err)
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_events_dedupe ON billing_events (org_id, dedupe_key)`,
	).Error; err != nil {
		t.Fatalf("index billing_events: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	outbox := events.NewOutbox(db, node)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	orgs := orgservice.NewService(orgservice.Params{
		DB:       db,
		Log:      log,
		AuditSvc: auditSvc,
		Outbox:   outbox,
		Repo:     orgrepo.Provide(),
	})
	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	now := time.Now().UTC().Truncate(time.Second)
	repo := billingrepo.Provide()

	svc := NewService(Params{
		DB:    db,
		Log:   log,
		Clock: clock.Fixed(now),
		GenID: node,
		Config: config.Config{
			Stripe: config.StripeConfig{
				WebhookSecret:   testWebhookSecret,
				PlatformPriceID: "price_platform",
			},
		},
		Repo:     repo,
		Gateway:  gw,
		Orgs:     orgs,
		AuditSvc: auditSvc,
		Notifier: notifier,
		Outbox:   outbox,
		Metrics:  metrics.Webhook(),
	})

	return &testEnv{
		db:       db,
		node:     node,
		now:      now,
		svc:      svc,
		repo:     repo,
		orgs:     orgs,
		gw:       gw,
		notifier: notifier,
	}
}

func (env *testEnv) createOrg(t *testing.T, status orgdomain.OrganizationStatus) *orgdomain.Organization {
	t.Helper()
	now := time.Now().UTC()
	org := &orgdomain.Organization{
		ID:           env.node.Generate(),
		Name:         "Test Studio",
		Slug:         fmt.Sprintf("studio-%d", env.node.Generate()),
		BillingEmail: "owner@example.com",
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status != orgdomain.StatusActive {
		at := now.Add(-24 * time.Hour)
		reason := "unresolved_payment_failure"
		if status == orgdomain.StatusPaused {
			org.PausedAt = &at
			org.PausedReason = &reason
		} else {
			org.DeactivatedAt = &at
			org.DeactivatedReason = &reason
		}
	}
	if err := env.db.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org
}

func (env *testEnv) createMembers(t *testing.T, orgID snowflake.ID, active int) {
	t.Helper()
	for i := 0; i < active; i++ {
		member := &orgdomain.Member{
			ID:     env.node.Generate(),
			OrgID:  orgID,
			Status: orgdomain.MemberStatusActive,
		}
		if err := env.db.Create(member).Error; err != nil {
			t.Fatalf("create member: %v", err)
		}
	}
}

func (env *testEnv) createBillingRecord(t *testing.T, record *domain.BillingRecord) {
	t.Helper()
	if record.ID == 0 {
		record.ID = env.node.Generate()
	}
	if err := env.db.Create(record).Error; err != nil {
		t.Fatalf("create billing record: %v", err)
	}
}

func (env *testEnv) billingRecord(t *testing.T, orgID snowflake.ID) *domain.BillingRecord {
	t.Helper()
	record, err := env.repo.FindRecordByOrg(context.Background(), env.db, orgID)
	if err != nil {
		t.Fatalf("find billing record: %v", err)
	}
	return record
}

func (env *testEnv) organization(t *testing.T, orgID snowflake.ID) *orgdomain.Organization {
	t.Helper()
	org, err := env.orgs.Get(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get organization: %v", err)
	}
	return org
}

func (env *testEnv) auditLogs(t *testing.T) []*auditdomain.AuditLog {
	t.Helper()
	var logs []*auditdomain.AuditLog
	if err := env.db.Order("id").Find(&logs).Error; err != nil {
		t.Fatalf("load audit logs: %v", err)
	}
	return logs
}

func (env *testEnv) webhookEventCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&domain.WebhookEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	return count
}

func (env *testEnv) ingest(t *testing.T, eventID, eventType string, object map[string]any) error {
	t.Helper()
	payload := eventBody(t, eventID, eventType, object)
	return env.svc.IngestWebhook(context.Background(), payload, signedHeaders(payload, testWebhookSecret))
}

func eventBody(t *testing.T, eventID, eventType string, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func signedHeaders(payload []byte, secret string) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

type createdSubscription struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	Metadata   map[string]string
}

type fakeGateway struct {
	subscriptions map[string]*gateway.Subscription
	invoices      map[string]*gateway.Invoice
	paidInvoices  []string
	paidWith      []string
	healed        map[string]map[string]string
	attached      []string
	defaults      []string
	created       []createdSubscription

	createErr   error
	panicCreate bool
	panicPay    bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subscriptions: map[string]*gateway.Subscription{},
		invoices:      map[string]*gateway.Invoice{},
		healed:        map[string]map[string]string{},
	}
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return sub, nil
}

func (g *fakeGateway) GetInvoice(_ context.Context, id string) (*gateway.Invoice, error) {
	inv, ok := g.invoices[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return inv, nil
}

func (g *fakeGateway) PayInvoice(_ context.Context, invoiceID, paymentMethodID string) error {
	if g.panicPay {
		panic("gateway connection lost")
	}
	g.paidInvoices = append(g.paidInvoices, invoiceID)
	g.paidWith = append(g.paidWith, paymentMethodID)
	return nil
}

func (g *fakeGateway) UpdateInvoiceMetadata(_ context.Context, invoiceID string, metadata map[string]string) error {
	g.healed[invoiceID] = metadata
	return nil
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, _, paymentMethodID string) error {
	g.attached = append(g.attached, paymentMethodID)
	return nil
}

func (g *fakeGateway) SetDefaultPaymentMethod(_ context.Context, _, paymentMethodID string) error {
	g.defaults = append(g.defaults, paymentMethodID)
	return nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, customerID, priceID string, quantity int64, metadata map[string]string) (*gateway.Subscription, error) {
	if g.panicCreate {
		panic("gateway connection lost")
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, createdSubscription{
		CustomerID: customerID,
		PriceID:    priceID,
		Quantity:   quantity,
		Metadata:   metadata,
	})
	return &gateway.Subscription{
		ID:         fmt.Sprintf("sub_fake_%d", len(g.created)),
		ItemID:     fmt.Sprintf("si_fake_%d", len(g.created)),
		CustomerID: customerID,
		Status:     "active",
		Metadata:   metadata,
	}, nil
}

type fakeNotifier struct {
	receipts    []notify.Receipt
	warnings    []notify.FailureWarning
	paused      []string
	deactivated []string
}

func (n *fakeNotifier) SendPaymentReceipt(_ context.Context, _ notify.Recipient, receipt notify.Receipt) error {
	n.receipts = append(n.receipts, receipt)
	return nil
}

func (n *fakeNotifier) SendPaymentFailureWarning(_ context.Context, _ notify.Recipient, warning notify.FailureWarning) error {
	n.warnings = append(n.warnings, warning)
	return nil
}

func (n *fakeNotifier) SendAccountPaused(_ context.Context, to notify.Recipient, _ string) error {
	n.paused = append(n.paused, to.OrgID)
	return nil
}

func (n *fakeNotifier) SendAccountDeactivated(_ context.Context, to notify.Recipient, _ string) error {
	n.deactivated = append(n.deactivated, to.OrgID)
	return nil
}
