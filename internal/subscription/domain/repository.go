package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists subscriptions. Implementations receive the *gorm.DB
// per call so services decide the transaction boundary.
type Repository interface {
	Save(ctx context.Context, db *gorm.DB, sub *Subscription) error

	// FindByOrganizationID returns the organization's current subscription:
	// the most recently created row. Returns nil when the organization has
	// none.
	FindByOrganizationID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)

	// FindAllExpired returns ACTIVE subscriptions past their period end that
	// will not auto-renew. Input to the expiration sweep.
	FindAllExpired(ctx context.Context, db *gorm.DB, now time.Time) ([]*Subscription, error)

	// FindAllDueForRenewal returns ACTIVE subscriptions past their period
	// end that auto-renew. Input to the renewal sweep. Disjoint from
	// FindAllExpired by construction.
	FindAllDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time) ([]*Subscription, error)
}
