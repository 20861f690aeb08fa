package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert persists a new payment. A unique-key violation on the provider
	// payment ID is surfaced as ErrDuplicateProviderPayment so callers can
	// classify it as an idempotent conflict.
	Insert(ctx context.Context, db *gorm.DB, p *Payment) error
}
