package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusPending   Status = "PENDING"
)

var (
	ErrInvalidAmount = errors.New("payment: amount must be non-negative")

	// ErrDuplicateProviderPayment is returned when a payment with the same
	// provider payment ID already exists. A second success callback for the
	// same charge lands here and is treated as already applied.
	ErrDuplicateProviderPayment = errors.New("payment: provider payment id already recorded")
)

// Payment is an immutable money-movement record. Amounts are integer cents,
// never floats.
type Payment struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrganizationID    snowflake.ID `gorm:"column:organization_id;not null;index"`
	SubscriptionID    snowflake.ID `gorm:"column:subscription_id;not null"`
	AmountCents       int64        `gorm:"not null"`
	Currency          string       `gorm:"type:text;not null"`
	Status            Status       `gorm:"type:text;not null"`
	ProviderPaymentID *string      `gorm:"column:provider_payment_id;uniqueIndex"`
	CreatedAt         time.Time    `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func New(id snowflake.ID, orgID, subID snowflake.ID, amountCents int64, currency string, status Status, providerPaymentID *string, now time.Time) (*Payment, error) {
	if amountCents < 0 {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = "USD"
	}
	return &Payment{
		ID:                id,
		OrganizationID:    orgID,
		SubscriptionID:    subID,
		AmountCents:       amountCents,
		Currency:          currency,
		Status:            status,
		ProviderPaymentID: providerPaymentID,
		CreatedAt:         now,
	}, nil
}
