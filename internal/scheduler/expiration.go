package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	pkgdb "github.com/subledger-io/subledger/pkg/db"
)

// RunExpirationSweep expires every non-renewing ACTIVE subscription whose
// period has ended. Per-row transactions; one failure never stops the
// sweep.
func (s *Scheduler) RunExpirationSweep(ctx context.Context) SweepResult {
	now := s.clock.Now()

	due, err := s.subRepo.FindAllExpired(ctx, s.db, now)
	if err != nil {
		return SweepResult{Errors: []error{fmt.Errorf("find expired: %w", err)}}
	}

	result := SweepResult{Total: len(due)}
	for _, sub := range due {
		if err := s.expireOne(ctx, sub); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("expire subscription %d: %w", int64(sub.ID), err))
			continue
		}
		result.Succeeded++

		s.outbox.Publish(subscriptiondomain.SubscriptionChanged{
			OrganizationID: sub.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         subscriptiondomain.ActionExpired,
			Metadata: map[string]any{
				"plan":       string(sub.Plan),
				"period_end": sub.CurrentPeriodEnd,
			},
		})
		s.log.Info("subscription expired",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Int64("organization_id", int64(sub.OrganizationID)))
	}
	return result
}

func (s *Scheduler) expireOne(ctx context.Context, sub *subscriptiondomain.Subscription) error {
	if err := sub.Expire(); err != nil {
		return err
	}
	return pkgdb.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		return s.subRepo.Save(ctx, tx, sub)
	})
}
