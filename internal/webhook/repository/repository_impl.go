package repository

import (
	"context"
	"errors"
	"time"

	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() webhookdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *webhookdomain.WebhookEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*webhookdomain.WebhookEvent, error) {
	var event webhookdomain.WebhookEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       webhookdomain.StatusProcessed,
			"processed_at": at,
		}).Error
}

func (r *repo) MarkIgnored(ctx context.Context, db *gorm.DB, id string, reason string) error {
	return db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        webhookdomain.StatusIgnored,
			"error_message": reason,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id string, reason string, at time.Time) error {
	return db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        webhookdomain.StatusFailed,
			"error_message": reason,
			"failed_at":     at,
		}).Error
}

func (r *repo) ResetForReplay(ctx context.Context, db *gorm.DB, id string) error {
	result := db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ? AND status = ?", id, webhookdomain.StatusFailed).
		Updates(map[string]any{
			"status":        webhookdomain.StatusPending,
			"error_message": nil,
			"failed_at":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return webhookdomain.ErrNotReplayable
	}
	return nil
}

func (r *repo) ListFailed(ctx context.Context, db *gorm.DB, limit int) ([]*webhookdomain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*webhookdomain.WebhookEvent
	err := db.WithContext(ctx).
		Where("status = ?", webhookdomain.StatusFailed).
		Order("failed_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) DeleteTerminalBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("received_at < ? AND status IN ?", cutoff, []webhookdomain.EventStatus{
			webhookdomain.StatusProcessed,
			webhookdomain.StatusIgnored,
			webhookdomain.StatusUnhandled,
		}).
		Delete(&webhookdomain.WebhookEvent{})
	return result.RowsAffected, result.Error
}
