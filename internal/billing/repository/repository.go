package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/studiolane/studiolane/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

// Provide builds the billing repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindWebhookEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := db.WithContext(ctx).
		First(&event, "provider = ? AND provider_event_id = ?", provider, providerEventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, orgID *snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_webhook_events
		 SET processed_at = ?, org_id = COALESCE(?, org_id)
		 WHERE id = ? AND processed_at IS NULL`,
		processedAt.UTC(),
		orgID,
		id,
	).Error
}

func (r *repository) FindRecordByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.BillingRecord, error) {
	var record domain.BillingRecord
	err := db.WithContext(ctx).First(&record, "org_id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindRecordBySubscription(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*domain.BillingRecord, error) {
	var record domain.BillingRecord
	err := db.WithContext(ctx).
		First(&record, "gateway_subscription_id = ?", gatewaySubscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) BeginFailureStreak(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) (bool, error) {
	// The IS NULL guard makes the streak start at-most-once under
	// concurrent delivery; repeats fall through with zero rows affected.
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET first_payment_failure_date = ?,
		     payment_retry_count = 0,
		     warning_email_sent = ?,
		     updated_at = ?
		 WHERE org_id = ? AND first_payment_failure_date IS NULL`,
		at.UTC(),
		false,
		time.Now().UTC(),
		orgID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ClearFailureStreak(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionStatus string, billedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET first_payment_failure_date = NULL,
		     payment_retry_count = 0,
		     warning_email_sent = ?,
		     subscription_status = ?,
		     last_billed_at = ?,
		     updated_at = ?
		 WHERE org_id = ?`,
		false,
		subscriptionStatus,
		billedAt.UTC(),
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) SetSubscriptionStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET subscription_status = ?, updated_at = ?
		 WHERE org_id = ?`,
		status,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) SetSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionID, subscriptionItemID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET gateway_subscription_id = ?,
		     gateway_subscription_item_id = ?,
		     subscription_status = ?,
		     updated_at = ?
		 WHERE org_id = ?`,
		subscriptionID,
		subscriptionItemID,
		status,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) ClearSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET gateway_subscription_id = NULL,
		     gateway_subscription_item_id = NULL,
		     subscription_status = ?,
		     updated_at = ?
		 WHERE org_id = ?`,
		domain.SubscriptionStatusCanceled,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) SetPaymentMethod(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerID, paymentMethodID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET gateway_customer_id = ?,
		     default_payment_method_id = ?,
		     updated_at = ?
		 WHERE org_id = ?`,
		customerID,
		paymentMethodID,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) SetLastBilled(ctx context.Context, db *gorm.DB, orgID snowflake.ID, billedAt time.Time, memberCount int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET last_billed_at = ?,
		     last_billed_member_count = ?,
		     updated_at = ?
		 WHERE org_id = ?`,
		billedAt.UTC(),
		memberCount,
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) EnsureRecord(ctx context.Context, db *gorm.DB, record *domain.BillingRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}},
			DoNothing: true,
		}).
		Create(record).Error
}

func (r *repository) MarkPaymentSucceeded(ctx context.Context, db *gorm.DB, gatewayPaymentIntentID string, paidAt time.Time, methodLabel string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, paid_at = ?, method_label = ?, updated_at = ?
		 WHERE gateway_payment_intent_id = ? AND status <> ?`,
		domain.PaymentStatusSucceeded,
		paidAt.UTC(),
		methodLabel,
		time.Now().UTC(),
		gatewayPaymentIntentID,
		domain.PaymentStatusSucceeded,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkInvoicePaid(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, paidAt time.Time, methodLabel string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, payment_method_label = ?, updated_at = ?
		 WHERE id = ? AND org_id = ? AND status <> ?`,
		domain.InvoiceStatusPaid,
		paidAt.UTC(),
		methodLabel,
		time.Now().UTC(),
		invoiceID,
		orgID,
		domain.InvoiceStatusPaid,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) LockRecordsInStreak(ctx context.Context, db *gorm.DB, limit int) ([]*domain.BillingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := db.WithContext(ctx).
		Where("first_payment_failure_date IS NOT NULL").
		Order("first_payment_failure_date").
		Limit(limit)
	// sqlite (tests) has no row locks.
	if db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var records []*domain.BillingRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) RecordRetryAttempt(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET payment_retry_count = payment_retry_count + 1,
		     last_payment_retry_date = ?,
		     updated_at = ?
		 WHERE org_id = ? AND first_payment_failure_date IS NOT NULL`,
		at.UTC(),
		time.Now().UTC(),
		orgID,
	).Error
}

func (r *repository) MarkWarningEmailSent(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_records
		 SET warning_email_sent = ?, updated_at = ?
		 WHERE org_id = ? AND warning_email_sent = ? AND first_payment_failure_date IS NOT NULL`,
		true,
		time.Now().UTC(),
		orgID,
		false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
