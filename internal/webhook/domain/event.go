package domain

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// EventStatus is the lifecycle of a ledger row. Transitions are monotonic:
// PENDING moves to PROCESSED, FAILED or IGNORED exactly once; FAILED moves
// back to PENDING only through an explicit operator replay.
type EventStatus string

const (
	StatusPending   EventStatus = "PENDING"
	StatusProcessed EventStatus = "PROCESSED"
	StatusFailed    EventStatus = "FAILED"
	StatusIgnored   EventStatus = "IGNORED"
	StatusUnhandled EventStatus = "UNHANDLED"
)

var (
	ErrEmptyBody        = errors.New("webhook: empty request body")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrMalformedEvent   = errors.New("webhook: malformed event envelope")
	ErrEventNotFound    = errors.New("webhook: event not found")
	ErrNotReplayable    = errors.New("webhook: only FAILED events with a stored payload can be replayed")

	// ErrMissingOrganization is a business-rule rejection: the provider sent
	// an event without our correlation metadata. Retrying cannot fix it.
	ErrMissingOrganization = errors.New("webhook: command carries no organization id")
)

// WebhookEvent is the idempotency ledger. The primary key is the provider's
// event ID, so exactly one row can ever exist per delivery no matter how
// many times the provider retries. Payload holds the normalized command so
// replay never re-parses provider wire format.
type WebhookEvent struct {
	ID           string         `gorm:"primaryKey;type:text"`
	Type         string         `gorm:"type:text;not null"`
	Status       EventStatus    `gorm:"type:text;not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage *string        `gorm:"type:text"`
	ReceivedAt   time.Time      `gorm:"not null"`
	ProcessedAt  *time.Time
	FailedAt     *time.Time
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Envelope is the provider's outer event shape.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}
