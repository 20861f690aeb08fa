package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repo) FindByOrganizationID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindAllExpired(ctx context.Context, db *gorm.DB, now time.Time) ([]*subscriptiondomain.Subscription, error) {
	return r.findDue(ctx, db, now, false)
}

func (r *repo) FindAllDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time) ([]*subscriptiondomain.Subscription, error) {
	return r.findDue(ctx, db, now, true)
}

func (r *repo) findDue(ctx context.Context, db *gorm.DB, now time.Time, autoRenew bool) ([]*subscriptiondomain.Subscription, error) {
	var subs []*subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND current_period_end < ? AND auto_renew = ?",
			subscriptiondomain.StatusActive, now, autoRenew).
		Order("current_period_end ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
