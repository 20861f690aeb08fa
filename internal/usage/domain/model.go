package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ResourceAPICalls is the only metered resource today.
const ResourceAPICalls = "API_CALLS"

var ErrLimitExceeded = errors.New("usage: limit exceeded")

// OrganizationUsage is a per-organization, per-resource counter. The value
// never goes negative and incrementing past the limit fails instead of
// clamping.
type OrganizationUsage struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrganizationID snowflake.ID `gorm:"column:organization_id;not null;uniqueIndex:idx_org_resource"`
	Resource       string       `gorm:"type:text;not null;uniqueIndex:idx_org_resource"`
	CurrentValue   int64        `gorm:"not null;default:0"`
	Limit          int64        `gorm:"column:usage_limit;not null"`
	ResetAt        time.Time    `gorm:"not null"`
}

func (OrganizationUsage) TableName() string { return "organization_usage" }

func New(id snowflake.ID, orgID snowflake.ID, resource string, limit int64, resetAt time.Time) *OrganizationUsage {
	return &OrganizationUsage{
		ID:             id,
		OrganizationID: orgID,
		Resource:       resource,
		Limit:          limit,
		ResetAt:        resetAt,
	}
}

func (u *OrganizationUsage) Increment(amount int64) error {
	if u.CurrentValue+amount > u.Limit {
		return ErrLimitExceeded
	}
	u.CurrentValue += amount
	return nil
}

// Reset zeroes the counter for a new billing period.
func (u *OrganizationUsage) Reset(newLimit int64, resetAt time.Time) {
	u.CurrentValue = 0
	u.Limit = newLimit
	u.ResetAt = resetAt
}

func (u *OrganizationUsage) IsExceeded() bool {
	return u.CurrentValue >= u.Limit
}
