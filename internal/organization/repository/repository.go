package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/studiolane/studiolane/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide builds the organization repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) ReactivateIfSuspended(ctx context.Context, db *gorm.DB, orgID snowflake.ID, paidAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET status = ?,
		     paused_at = NULL,
		     paused_reason = NULL,
		     deactivated_at = NULL,
		     deactivated_reason = NULL,
		     payment_failure_count = 0,
		     last_payment_date = ?,
		     updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusActive,
		paidAt.UTC(),
		time.Now().UTC(),
		orgID,
		domain.StatusPaused,
		domain.StatusDeactivated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) RecordPayment(ctx context.Context, db *gorm.DB, orgID snowflake.ID, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET payment_failure_count = 0,
		     last_payment_date = ?,
		     updated_at = ?
		 WHERE id = ?`,
		paidAt.UTC(),
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) IncrementPaymentFailures(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET payment_failure_count = payment_failure_count + 1,
		     updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) SetPaused(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reason string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET status = ?, paused_at = ?, paused_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPaused,
		at.UTC(),
		reason,
		time.Now().UTC(),
		orgID,
		domain.StatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetDeactivated(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reason string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET status = ?, deactivated_at = ?, deactivated_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusDeactivated,
		at.UTC(),
		reason,
		time.Now().UTC(),
		orgID,
		domain.StatusActive,
		domain.StatusPaused,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CountActiveMembers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("org_id = ? AND status = ?", orgID, domain.MemberStatusActive).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
