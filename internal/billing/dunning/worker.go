package dunning

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studiolane/studiolane/internal/audit/domain"
	"github.com/studiolane/studiolane/internal/auditcontext"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"github.com/studiolane/studiolane/internal/clock"
	"github.com/studiolane/studiolane/internal/config"
	"github.com/studiolane/studiolane/internal/notify"
	"github.com/studiolane/studiolane/internal/observability/metrics"
	orgdomain "github.com/studiolane/studiolane/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const escalationReason = "unresolved_payment_failure"

// Worker escalates unresolved payment failure streaks on a schedule.
// Settlement through the webhook path clears the streak; this worker only
// moves organizations further along warning, pause, and deactivation as the
// streak ages. Every step is a conditional update, so overlapping runs and
// restarts converge.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.DunningConfig
	clock    clock.Clock
	repo     domain.Repository
	orgs     orgdomain.Service
	auditSvc auditdomain.Service
	notifier notify.Notifier
	metrics  *metrics.WebhookMetrics
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Repo     domain.Repository
	Orgs     orgdomain.Service
	AuditSvc auditdomain.Service
	Notifier notify.Notifier
	Metrics  *metrics.WebhookMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("billing.dunning"),
		cfg:      withDefaults(p.Config.Dunning),
		clock:    p.Clock,
		repo:     p.Repo,
		orgs:     p.Orgs,
		auditSvc: p.AuditSvc,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func withDefaults(cfg config.DunningConfig) config.DunningConfig {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 72 * time.Hour
	}
	if cfg.WarningAfter <= 0 {
		cfg.WarningAfter = 7 * 24 * time.Hour
	}
	if cfg.PauseAfter <= 0 {
		cfg.PauseAfter = 14 * 24 * time.Hour
	}
	if cfg.DeactivateAfter <= 0 {
		cfg.DeactivateAfter = 30 * 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return cfg
}

// RunForever polls until the context is canceled.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("dunning worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("dunning worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("dunning pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes a single batch of records in an unresolved streak.
func (w *Worker) RunOnce(ctx context.Context) error {
	ctx = auditcontext.WithActor(ctx, "system", "dunning")
	return w.db.Transaction(func(tx *gorm.DB) error {
		batch := w.withTx(tx)
		records, err := w.repo.LockRecordsInStreak(ctx, tx, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := batch.escalate(ctx, tx, record); err != nil {
				w.log.Error("escalation failed",
					zap.String("org_id", record.OrgID.String()),
					zap.Error(err),
				)
			}
		}
		return nil
	})
}

// withTx rebinds the status and audit services to the batch transaction, so
// escalation writes commit or roll back together.
func (w *Worker) withTx(tx *gorm.DB) *Worker {
	bound := *w
	bound.orgs = w.orgs.WithTx(tx)
	bound.auditSvc = w.auditSvc.WithTx(tx)
	return &bound
}

func (w *Worker) escalate(ctx context.Context, tx *gorm.DB, record *domain.BillingRecord) error {
	if record.FirstPaymentFailureDate == nil {
		return nil
	}
	now := w.clock.Now()
	streakAge := now.Sub(*record.FirstPaymentFailureDate)

	switch {
	case streakAge >= w.cfg.DeactivateAfter:
		return w.deactivate(ctx, record.OrgID, streakAge, now)
	case streakAge >= w.cfg.PauseAfter:
		return w.pause(ctx, record.OrgID, streakAge, now)
	case streakAge >= w.cfg.WarningAfter && !record.WarningEmailSent:
		return w.warn(ctx, tx, record, streakAge)
	}

	return w.recordRetry(ctx, tx, record, streakAge, now)
}

func (w *Worker) deactivate(ctx context.Context, orgID snowflake.ID, streakAge time.Duration, now time.Time) error {
	err := w.orgs.Deactivate(ctx, orgID, escalationReason, now)
	if errors.Is(err, orgdomain.ErrAlreadyInState) {
		return nil
	}
	if err != nil {
		return err
	}
	w.metrics.ObserveEscalation("deactivate", streakAge)
	w.notifyStatus(ctx, orgID, false)
	return nil
}

func (w *Worker) pause(ctx context.Context, orgID snowflake.ID, streakAge time.Duration, now time.Time) error {
	err := w.orgs.Pause(ctx, orgID, escalationReason, now)
	if errors.Is(err, orgdomain.ErrAlreadyInState) {
		return nil
	}
	if err != nil {
		return err
	}
	w.metrics.ObserveEscalation("pause", streakAge)
	w.notifyStatus(ctx, orgID, true)
	return nil
}

// warn sends the escalated warning at most once per streak. The flag flip
// is the gate; losing the notification after the flip is acceptable, the
// reverse is not.
func (w *Worker) warn(ctx context.Context, tx *gorm.DB, record *domain.BillingRecord, streakAge time.Duration) error {
	sent, err := w.repo.MarkWarningEmailSent(ctx, tx, record.OrgID)
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}
	w.metrics.ObserveEscalation("warning", streakAge)

	orgID := record.OrgID
	targetID := orgID.String()
	if err := w.auditSvc.AuditLog(ctx, &orgID, "system", nil,
		"billing.warning_sent", "organization", &targetID,
		map[string]any{"streak_age_hours": int(streakAge.Hours())},
	); err != nil {
		w.log.Warn("audit log write failed",
			zap.String("org_id", targetID),
			zap.Error(err),
		)
	}

	org, err := w.orgs.Get(ctx, record.OrgID)
	if err != nil {
		w.log.Warn("organization lookup failed for warning",
			zap.String("org_id", record.OrgID.String()),
			zap.Error(err),
		)
		return nil
	}
	if err := w.notifier.SendPaymentFailureWarning(ctx, recipientFor(org), notify.FailureWarning{
		FailedAt:   record.FirstPaymentFailureDate.UTC().Format(time.RFC3339),
		RetryCount: record.PaymentRetryCount,
		Final:      true,
	}); err != nil {
		w.log.Warn("warning notification failed",
			zap.String("org_id", record.OrgID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// recordRetry spaces out retry bookkeeping. The gateway runs its own card
// retries; locally only the count and timestamp are tracked so the streak
// age and attempts are visible to operators.
func (w *Worker) recordRetry(ctx context.Context, tx *gorm.DB, record *domain.BillingRecord, streakAge time.Duration, now time.Time) error {
	if record.LastPaymentRetryDate != nil && now.Sub(*record.LastPaymentRetryDate) < w.cfg.RetryInterval {
		return nil
	}
	if err := w.repo.RecordRetryAttempt(ctx, tx, record.OrgID, now); err != nil {
		return err
	}
	w.metrics.ObserveEscalation("retry", streakAge)
	return nil
}

func (w *Worker) notifyStatus(ctx context.Context, orgID snowflake.ID, paused bool) {
	org, err := w.orgs.Get(ctx, orgID)
	if err != nil {
		w.log.Warn("organization lookup failed for status notice",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return
	}
	if paused {
		err = w.notifier.SendAccountPaused(ctx, recipientFor(org), escalationReason)
	} else {
		err = w.notifier.SendAccountDeactivated(ctx, recipientFor(org), escalationReason)
	}
	if err != nil {
		w.log.Warn("status notification failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
}

func recipientFor(org *orgdomain.Organization) notify.Recipient {
	return notify.Recipient{
		OrgID:   org.ID.String(),
		OrgName: org.Name,
		Email:   org.BillingEmail,
	}
}
