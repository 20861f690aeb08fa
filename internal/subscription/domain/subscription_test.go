package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeSub(t *testing.T) *Subscription {
	t.Helper()
	sub, err := NewFree(1, 42, testNow)
	require.NoError(t, err)
	return sub
}

func TestNewFree(t *testing.T) {
	sub := activeSub(t)

	assert.Equal(t, PlanFree, sub.Plan)
	assert.Equal(t, StatusActive, sub.Status)
	assert.False(t, sub.AutoRenew, "FREE lapses instead of renewing")
	assert.Equal(t, testNow, sub.CurrentPeriodStart)
	assert.Equal(t, testNow.AddDate(0, 0, 30), sub.CurrentPeriodEnd)
}

func TestAutoRenewFollowsPlan(t *testing.T) {
	paid, err := New(1, 42, PlanPro, 30, testNow)
	require.NoError(t, err)
	assert.True(t, paid.AutoRenew)

	sub := activeSub(t)
	require.NoError(t, sub.UpgradeTo(PlanPro, 30, testNow))
	assert.True(t, sub.AutoRenew)

	require.NoError(t, sub.UpgradeTo(PlanFree, 30, testNow))
	assert.False(t, sub.AutoRenew)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		orgID   snowflake.ID
		plan    Plan
		days    int
		wantErr error
	}{
		{"missing org", 0, PlanPro, 30, ErrInvalidOrganization},
		{"unknown plan", 42, Plan("PLATINUM"), 30, ErrInvalidPlan},
		{"zero duration", 42, PlanPro, 0, ErrInvalidDuration},
		{"negative duration", 42, PlanPro, -7, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, tt.orgID, tt.plan, tt.days, testNow)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCancel(t *testing.T) {
	sub := activeSub(t)

	require.NoError(t, sub.Cancel())
	assert.Equal(t, StatusCanceled, sub.Status)

	// terminal: second cancel and any expire are rejected
	assert.ErrorIs(t, sub.Cancel(), ErrInvalidTransition)
	assert.ErrorIs(t, sub.Expire(), ErrInvalidTransition)
}

func TestExpire(t *testing.T) {
	sub := activeSub(t)

	require.NoError(t, sub.Expire())
	assert.Equal(t, StatusExpired, sub.Status)

	assert.ErrorIs(t, sub.Expire(), ErrInvalidTransition)
	assert.ErrorIs(t, sub.Cancel(), ErrInvalidTransition)
}

func TestUpgradeTo(t *testing.T) {
	sub := activeSub(t)
	later := testNow.Add(48 * time.Hour)

	require.NoError(t, sub.UpgradeTo(PlanPro, 30, later))
	assert.Equal(t, PlanPro, sub.Plan)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, later, sub.CurrentPeriodStart)
	assert.Equal(t, later.AddDate(0, 0, 30), sub.CurrentPeriodEnd)
}

func TestUpgradeToValidation(t *testing.T) {
	sub := activeSub(t)

	assert.ErrorIs(t, sub.UpgradeTo(PlanFree, 30, testNow), ErrSamePlan)
	assert.ErrorIs(t, sub.UpgradeTo(PlanPro, 0, testNow), ErrInvalidDuration)
	assert.ErrorIs(t, sub.UpgradeTo(PlanPro, -1, testNow), ErrInvalidDuration)
	assert.ErrorIs(t, sub.UpgradeTo(Plan("GOLD"), 30, testNow), ErrInvalidPlan)

	// validation errors are distinct from the transition guard
	assert.False(t, IsValidationError(ErrInvalidTransition))
	assert.True(t, IsValidationError(ErrSamePlan))

	// plan untouched after rejections
	assert.Equal(t, PlanFree, sub.Plan)
}

func TestUpgradeToOnTerminalState(t *testing.T) {
	sub := activeSub(t)
	require.NoError(t, sub.Expire())

	err := sub.UpgradeTo(PlanPro, 30, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PlanFree, sub.Plan)
}

func TestRenewBackToBack(t *testing.T) {
	sub := activeSub(t)
	oldEnd := sub.CurrentPeriodEnd

	require.NoError(t, sub.Renew(30))

	// no gap and no overlap between consecutive periods
	assert.Equal(t, oldEnd, sub.CurrentPeriodStart)
	assert.Equal(t, oldEnd.AddDate(0, 0, 30), sub.CurrentPeriodEnd)
}

func TestRenewValidation(t *testing.T) {
	sub := activeSub(t)
	assert.ErrorIs(t, sub.Renew(0), ErrInvalidDuration)

	require.NoError(t, sub.Cancel())
	assert.ErrorIs(t, sub.Renew(30), ErrInvalidTransition)
}

func TestIsActive(t *testing.T) {
	sub := activeSub(t)

	assert.True(t, sub.IsActive(testNow))
	assert.True(t, sub.IsActive(testNow.AddDate(0, 0, 30)))
	assert.False(t, sub.IsActive(testNow.AddDate(0, 0, 31)))
	assert.False(t, sub.IsActive(testNow.Add(-time.Minute)))

	require.NoError(t, sub.Cancel())
	assert.False(t, sub.IsActive(testNow))
}
