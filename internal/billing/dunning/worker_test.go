package dunning

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studiolane/studiolane/internal/audit/domain"
	auditrepo "github.com/studiolane/studiolane/internal/audit/repository"
	auditservice "github.com/studiolane/studiolane/internal/audit/service"
	"github.com/studiolane/studiolane/internal/billing/domain"
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

type workerTestEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	now      time.Time
	worker   *Worker
	orgs     orgdomain.Service
	repo     domain.Repository
	notifier *recordingNotifier
}

func setupWorkerEnv(t *testing.T) *workerTestEnv {
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
	notifier := &recordingNotifier{}
	now := time.Now().UTC().Truncate(time.Second)
	repo := billingrepo.Provide()

	worker := NewWorker(Params{
		DB:       db,
		Log:      log,
		Config:   config.Config{},
		Clock:    clock.Fixed(now),
		Repo:     repo,
		Orgs:     orgs,
		AuditSvc: auditSvc,
		Notifier: notifier,
		Metrics:  metrics.Webhook(),
	})

	return &workerTestEnv{
		db:       db,
		node:     node,
		now:      now,
		worker:   worker,
		orgs:     orgs,
		repo:     repo,
		notifier: notifier,
	}
}

func (env *workerTestEnv) createOrgWithStreak(t *testing.T, status orgdomain.OrganizationStatus, streakAge time.Duration, warned bool) snowflake.ID {
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
	if err := env.db.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	failedAt := env.now.Add(-streakAge)
	record := &domain.BillingRecord{
		ID:                      env.node.Generate(),
		OrgID:                   org.ID,
		SubscriptionStatus:      domain.SubscriptionStatusPastDue,
		FirstPaymentFailureDate: &failedAt,
		WarningEmailSent:        warned,
	}
	if err := env.db.Create(record).Error; err != nil {
		t.Fatalf("create billing record: %v", err)
	}
	return org.ID
}

func (env *workerTestEnv) orgStatus(t *testing.T, orgID snowflake.ID) orgdomain.OrganizationStatus {
	t.Helper()
	org, err := env.orgs.Get(context.Background(), orgID)
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	return org.Status
}

func TestFreshStreakOnlyRecordsRetry(t *testing.T) {
	env := setupWorkerEnv(t)
	orgID := env.createOrgWithStreak(t, orgdomain.StatusActive, 24*time.Hour, false)

	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := env.orgStatus(t, orgID); got != orgdomain.StatusActive {
		t.Fatalf("status = %s", got)
	}
	record, err := env.repo.FindRecordByOrg(context.Background(), env.db, orgID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.PaymentRetryCount != 1 || record.LastPaymentRetryDate == nil {
		t.Fatalf("retry bookkeeping: count=%d last=%v", record.PaymentRetryCount, record.LastPaymentRetryDate)
	}
	if len(env.notifier.warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", env.notifier.warnings)
	}

	// Within the retry interval nothing more is recorded.
	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	record, err = env.repo.FindRecordByOrg(context.Background(), env.db, orgID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if record.PaymentRetryCount != 1 {
		t.Fatalf("retry count = %d after immediate rerun", record.PaymentRetryCount)
	}
}

func TestAgedStreakSendsWarningOnce(t *testing.T) {
	env := setupWorkerEnv(t)
	orgID := env.createOrgWithStreak(t, orgdomain.StatusActive, 8*24*time.Hour, false)

	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(env.notifier.warnings) != 1 || !env.notifier.warnings[0].Final {
		t.Fatalf("warnings = %+v", env.notifier.warnings)
	}
	record, err := env.repo.FindRecordByOrg(context.Background(), env.db, orgID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if !record.WarningEmailSent {
		t.Fatal("warning flag not set")
	}
	if got := env.orgStatus(t, orgID); got != orgdomain.StatusActive {
		t.Fatalf("status = %s", got)
	}
}

func TestOldStreakPausesOrganization(t *testing.T) {
	env := setupWorkerEnv(t)
	orgID := env.createOrgWithStreak(t, orgdomain.StatusActive, 15*24*time.Hour, true)

	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := env.orgStatus(t, orgID); got != orgdomain.StatusPaused {
		t.Fatalf("status = %s", got)
	}
	if len(env.notifier.paused) != 1 {
		t.Fatalf("paused notices = %v", env.notifier.paused)
	}

	// A second pass leaves the paused organization alone.
	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(env.notifier.paused) != 1 {
		t.Fatalf("paused notices after rerun = %v", env.notifier.paused)
	}
}

func TestAncientStreakDeactivatesOrganization(t *testing.T) {
	env := setupWorkerEnv(t)
	orgID := env.createOrgWithStreak(t, orgdomain.StatusPaused, 31*24*time.Hour, true)

	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := env.orgStatus(t, orgID); got != orgdomain.StatusDeactivated {
		t.Fatalf("status = %s", got)
	}
	if len(env.notifier.deactivated) != 1 {
		t.Fatalf("deactivation notices = %v", env.notifier.deactivated)
	}
}

func TestHealthyRecordsAreNotTouched(t *testing.T) {
	env := setupWorkerEnv(t)
	now := time.Now().UTC()
	org := &orgdomain.Organization{
		ID:           env.node.Generate(),
		Name:         "Healthy Studio",
		Slug:         "healthy",
		BillingEmail: "owner@example.com",
		Status:       orgdomain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.db.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := env.db.Create(&domain.BillingRecord{
		ID:                 env.node.Generate(),
		OrgID:              org.ID,
		SubscriptionStatus: "active",
	}).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	if err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	record, err := env.repo.FindRecordByOrg(context.Background(), env.db, org.ID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.PaymentRetryCount != 0 {
		t.Fatalf("healthy record was escalated: %+v", record)
	}
	if got := env.orgStatus(t, org.ID); got != orgdomain.StatusActive {
		t.Fatalf("status = %s", got)
	}
}

type recordingNotifier struct {
	warnings    []notify.FailureWarning
	paused      []string
	deactivated []string
}

func (n *recordingNotifier) SendPaymentReceipt(context.Context, notify.Recipient, notify.Receipt) error {
	return nil
}

func (n *recordingNotifier) SendPaymentFailureWarning(_ context.Context, _ notify.Recipient, warning notify.FailureWarning) error {
	n.warnings = append(n.warnings, warning)
	return nil
}

func (n *recordingNotifier) SendAccountPaused(_ context.Context, to notify.Recipient, _ string) error {
	n.paused = append(n.paused, to.OrgID)
	return nil
}

func (n *recordingNotifier) SendAccountDeactivated(_ context.Context, to notify.Recipient, _ string) error {
	n.deactivated = append(n.deactivated, to.OrgID)
	return nil
}
