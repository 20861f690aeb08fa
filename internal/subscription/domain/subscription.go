package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// PriceCents is the simulated renewal charge per plan.
func (p Plan) PriceCents() int64 {
	switch p {
	case PlanPro:
		return 29_00
	case PlanEnterprise:
		return 299_00
	default:
		return 0
	}
}

// APICallLimit is the per-period usage allowance for the plan.
func (p Plan) APICallLimit() int64 {
	switch p {
	case PlanPro:
		return 10_000
	case PlanEnterprise:
		return 1_000_000
	default:
		return 100
	}
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
	StatusExpired  Status = "EXPIRED"
)

var (
	// ErrInvalidTransition marks a guarded transition called outside ACTIVE.
	// CANCELED and EXPIRED are terminal.
	ErrInvalidTransition = errors.New("subscription: invalid state transition")

	ErrInvalidOrganization = errors.New("subscription: organization id is required")
	ErrInvalidPlan         = errors.New("subscription: unknown plan")
	ErrSamePlan            = errors.New("subscription: cannot change to the same plan")
	ErrInvalidDuration     = errors.New("subscription: duration must be a positive number of days")
	ErrZeroLengthPeriod    = errors.New("subscription: period end must be after period start")

	ErrSubscriptionNotFound = errors.New("subscription: not found")
)

const FreePeriodDays = 30

// Subscription is the billing state machine for one organization. Rows are
// mutated only through the guarded transitions below; repositories persist
// whatever state the entity ends up in.
type Subscription struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	OrganizationID     snowflake.ID `gorm:"column:organization_id;not null;index"`
	Plan               Plan         `gorm:"type:text;not null"`
	Status             Status       `gorm:"type:text;not null"`
	AutoRenew          bool         `gorm:"not null"`
	CurrentPeriodStart time.Time    `gorm:"not null"`
	CurrentPeriodEnd   time.Time    `gorm:"not null"`
	CreatedAt          time.Time    `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// New creates an ACTIVE subscription starting now. Paid plans renew
// automatically at period end; FREE lapses, so the expiration sweep picks
// it up instead of the renewal sweep. The computed period end must land
// strictly after the start: sub-day durations that truncate to zero under
// day arithmetic are rejected rather than stored as an empty window.
func New(id snowflake.ID, orgID snowflake.ID, plan Plan, durationDays int, now time.Time) (*Subscription, error) {
	if orgID == 0 {
		return nil, ErrInvalidOrganization
	}
	if !plan.Valid() {
		return nil, ErrInvalidPlan
	}
	if durationDays <= 0 {
		return nil, ErrInvalidDuration
	}

	end := now.AddDate(0, 0, durationDays)
	if !end.After(now) {
		return nil, ErrZeroLengthPeriod
	}

	return &Subscription{
		ID:                 id,
		OrganizationID:     orgID,
		Plan:               plan,
		Status:             StatusActive,
		AutoRenew:          plan != PlanFree,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   end,
		CreatedAt:          now,
	}, nil
}

// NewFree creates the 30-day FREE subscription every organization starts
// with.
func NewFree(id snowflake.ID, orgID snowflake.ID, now time.Time) (*Subscription, error) {
	return New(id, orgID, PlanFree, FreePeriodDays, now)
}

// Cancel moves ACTIVE to CANCELED.
func (s *Subscription) Cancel() error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	s.Status = StatusCanceled
	return nil
}

// Expire moves ACTIVE to EXPIRED.
func (s *Subscription) Expire() error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	s.Status = StatusExpired
	return nil
}

// UpgradeTo switches an ACTIVE subscription to a different plan and opens a
// fresh period starting now. Auto-renewal follows the target plan: paid
// plans renew, FREE lapses.
func (s *Subscription) UpgradeTo(plan Plan, durationDays int, now time.Time) error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	if !plan.Valid() {
		return ErrInvalidPlan
	}
	if plan == s.Plan {
		return ErrSamePlan
	}
	if durationDays <= 0 {
		return ErrInvalidDuration
	}

	end := now.AddDate(0, 0, durationDays)
	if !end.After(now) {
		return ErrZeroLengthPeriod
	}

	s.Plan = plan
	s.Status = StatusActive
	s.AutoRenew = plan != PlanFree
	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = end
	return nil
}

// Renew opens the next period back-to-back with the current one. The new
// start is exactly the old end, not "now", so the usage window never
// drifts.
func (s *Subscription) Renew(durationDays int) error {
	if s.Status != StatusActive {
		return ErrInvalidTransition
	}
	if durationDays <= 0 {
		return ErrInvalidDuration
	}

	start := s.CurrentPeriodEnd
	end := start.AddDate(0, 0, durationDays)
	if !end.After(start) {
		return ErrZeroLengthPeriod
	}

	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = end
	return nil
}

// IsActive reports whether the subscription is ACTIVE and now falls inside
// the current period.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	return !now.Before(s.CurrentPeriodStart) && !now.After(s.CurrentPeriodEnd)
}

// IsValidationError reports whether err is one of the plan/duration
// validation failures, as opposed to a transition guard.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidOrganization) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrSamePlan) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrZeroLengthPeriod)
}
