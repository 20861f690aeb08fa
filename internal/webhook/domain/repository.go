package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository is the ledger. Status updates are expressed as intent-named
// methods rather than a generic update so the monotonic lifecycle is the
// interface, not a caller convention.
type Repository interface {
	// Insert creates the row. Returns gorm's duplicated-key error (already
	// translated) if a row with the same provider event ID exists; callers
	// treat that race as "duplicate delivery", never as a fault.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) error

	FindByID(ctx context.Context, db *gorm.DB, id string) (*WebhookEvent, error)

	MarkProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time) error
	MarkIgnored(ctx context.Context, db *gorm.DB, id string, reason string) error
	MarkFailed(ctx context.Context, db *gorm.DB, id string, reason string, at time.Time) error

	// ResetForReplay moves a FAILED row back to PENDING, clearing the error
	// fields. Only valid from FAILED; returns ErrNotReplayable otherwise.
	ResetForReplay(ctx context.Context, db *gorm.DB, id string) error

	// ListFailed returns the dead-letter set, most recently failed first.
	ListFailed(ctx context.Context, db *gorm.DB, limit int) ([]*WebhookEvent, error)

	// DeleteTerminalBefore removes PROCESSED/IGNORED/UNHANDLED rows received
	// before cutoff. FAILED rows are retained for operator inspection.
	DeleteTerminalBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
