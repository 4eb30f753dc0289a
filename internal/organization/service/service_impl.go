package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studiolane/studiolane/internal/audit/domain"
	"github.com/studiolane/studiolane/internal/events"
	"github.com/studiolane/studiolane/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	AuditSvc auditdomain.Service
	Outbox   *events.Outbox
	Repo     domain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	auditSvc auditdomain.Service
	outbox   *events.Outbox
	repo     domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("organization.service"),
		auditSvc: p.AuditSvc,
		outbox:   p.Outbox,
		repo:     p.Repo,
	}
}

func (s *Service) WithTx(tx *gorm.DB) domain.Service {
	if tx == nil {
		return s
	}
	bound := *s
	bound.db = tx
	bound.auditSvc = s.auditSvc.WithTx(tx)
	bound.outbox = s.outbox.WithTx(tx)
	return &bound
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrgID
	}
	return s.repo.FindByID(ctx, s.db, orgID)
}

func (s *Service) Reactivate(ctx context.Context, orgID snowflake.ID, paidAt time.Time) error {
	if orgID == 0 {
		return domain.ErrInvalidOrgID
	}

	reactivated, err := s.repo.ReactivateIfSuspended(ctx, s.db, orgID, paidAt)
	if err != nil {
		return err
	}
	if !reactivated {
		// Already active; only the payment bookkeeping changes.
		return s.repo.RecordPayment(ctx, s.db, orgID, paidAt)
	}

	s.log.Info("organization reactivated", zap.String("org_id", orgID.String()))

	targetID := orgID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil,
		"organization.reactivated", "organization", &targetID,
		map[string]any{"paid_at": paidAt.UTC().Format(time.RFC3339)},
	); err != nil {
		return err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		OrgID:     orgID,
		Type:      events.EventOrgReactivated,
		Payload:   events.StatusEventPayload{OrgID: orgID.String(), Status: string(domain.StatusActive)}.ToMap(),
		DedupeKey: events.EventOrgReactivated + ":" + orgID.String() + ":" + paidAt.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	return nil
}

func (s *Service) RecordPaymentFailure(ctx context.Context, orgID snowflake.ID) error {
	if orgID == 0 {
		return domain.ErrInvalidOrgID
	}
	return s.repo.IncrementPaymentFailures(ctx, s.db, orgID)
}

func (s *Service) Pause(ctx context.Context, orgID snowflake.ID, reason string, at time.Time) error {
	if orgID == 0 {
		return domain.ErrInvalidOrgID
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ErrInvalidReason
	}

	paused, err := s.repo.SetPaused(ctx, s.db, orgID, reason, at)
	if err != nil {
		return err
	}
	if !paused {
		return domain.ErrAlreadyInState
	}

	s.log.Warn("organization paused",
		zap.String("org_id", orgID.String()),
		zap.String("reason", reason),
	)

	targetID := orgID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil,
		"organization.paused", "organization", &targetID,
		map[string]any{"reason": reason},
	); err != nil {
		return err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		OrgID:     orgID,
		Type:      events.EventOrganizationPaused,
		Payload:   events.StatusEventPayload{OrgID: orgID.String(), Status: string(domain.StatusPaused), Reason: reason}.ToMap(),
		DedupeKey: events.EventOrganizationPaused + ":" + orgID.String() + ":" + at.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	return nil
}

func (s *Service) Deactivate(ctx context.Context, orgID snowflake.ID, reason string, at time.Time) error {
	if orgID == 0 {
		return domain.ErrInvalidOrgID
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ErrInvalidReason
	}

	deactivated, err := s.repo.SetDeactivated(ctx, s.db, orgID, reason, at)
	if err != nil {
		return err
	}
	if !deactivated {
		return domain.ErrAlreadyInState
	}

	s.log.Warn("organization deactivated",
		zap.String("org_id", orgID.String()),
		zap.String("reason", reason),
	)

	targetID := orgID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil,
		"organization.deactivated", "organization", &targetID,
		map[string]any{"reason": reason},
	); err != nil {
		return err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		OrgID:     orgID,
		Type:      events.EventOrgDeactivated,
		Payload:   events.StatusEventPayload{OrgID: orgID.String(), Status: string(domain.StatusDeactivated), Reason: reason}.ToMap(),
		DedupeKey: events.EventOrgDeactivated + ":" + orgID.String() + ":" + at.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	return nil
}

func (s *Service) CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, domain.ErrInvalidOrgID
	}
	return s.repo.CountActiveMembers(ctx, s.db, orgID)
}
