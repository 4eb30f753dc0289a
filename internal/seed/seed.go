package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/studiolane/studiolane/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName      = "Main"
	defaultOrgSlug      = "main"
	defaultBillingEmail = "billing@studiolane.app"
)

// EnsureDefaultOrg seeds the default organization for startup bootstrap.
// Self-hosted installs get one tenant out of the box; the hosted platform
// creates tenants through signup instead.
func EnsureDefaultOrg(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org organizationdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		org = organizationdomain.Organization{
			ID:           node.Generate(),
			Name:         defaultOrgName,
			Slug:         defaultOrgSlug,
			BillingEmail: defaultBillingEmail,
			Status:       organizationdomain.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&org).Error
	})
}
