package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AuditService appends immutable audit entries. Entries are never updated
// or deleted once written.
type AuditService interface {
	// WithTx binds the sink to an open transaction so audit rows commit or
	// roll back with the state change they describe.
	WithTx(tx *gorm.DB) Service

	AuditLog(
		ctx context.Context,
		orgID *snowflake.ID,
		actorType string,
		actorID *string,
		action string,
		targetType string,
		targetID *string,
		metadata map[string]any,
	) error

	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}

// Service is the package alias for AuditService.
type Service = AuditService

var (
	ErrInvalidAction     = errors.New("invalid_action")
	ErrInvalidTargetType = errors.New("invalid_target_type")
)
