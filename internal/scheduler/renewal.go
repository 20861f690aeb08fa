package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	paymentdomain "github.com/subledger-io/subledger/internal/payment/domain"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	pkgdb "github.com/subledger-io/subledger/pkg/db"
)

// RunRenewalSweep rolls every auto-renewing subscription past its period
// end into the next 30-day period. Each row gets its own transaction:
// period roll, usage reset and the simulated renewal charge commit or
// roll back together, and one bad row never stalls the rest.
func (s *Scheduler) RunRenewalSweep(ctx context.Context) SweepResult {
	now := s.clock.Now()

	due, err := s.subRepo.FindAllDueForRenewal(ctx, s.db, now)
	if err != nil {
		return SweepResult{Errors: []error{fmt.Errorf("find due for renewal: %w", err)}}
	}

	result := SweepResult{Total: len(due)}
	for _, sub := range due {
		if err := s.renewOne(ctx, sub); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("renew subscription %d: %w", int64(sub.ID), err))
			continue
		}
		result.Succeeded++

		s.outbox.Publish(subscriptiondomain.SubscriptionChanged{
			OrganizationID: sub.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         subscriptiondomain.ActionRenewed,
			Metadata: map[string]any{
				"plan":       string(sub.Plan),
				"period_end": sub.CurrentPeriodEnd,
			},
		})
		s.log.Info("subscription renewed",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Int64("organization_id", int64(sub.OrganizationID)),
			zap.Time("new_period_end", sub.CurrentPeriodEnd))
	}
	return result
}

func (s *Scheduler) renewOne(ctx context.Context, sub *subscriptiondomain.Subscription) error {
	if err := sub.Renew(renewPeriodDays); err != nil {
		return err
	}

	return pkgdb.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}

		usage, err := s.usageRepo.FindByOrganizationAndResource(ctx, tx, sub.OrganizationID, usagedomain.ResourceAPICalls)
		if err != nil {
			return err
		}
		if usage == nil {
			usage = usagedomain.New(
				s.genID.Generate(), sub.OrganizationID,
				usagedomain.ResourceAPICalls,
				sub.Plan.APICallLimit(), sub.CurrentPeriodEnd,
			)
		} else {
			usage.Reset(sub.Plan.APICallLimit(), sub.CurrentPeriodEnd)
		}
		if err := s.usageRepo.Save(ctx, tx, usage); err != nil {
			return err
		}

		// Simulated renewal charge. FREE renews at zero so the payment
		// history still shows the period roll.
		payment, err := paymentdomain.New(
			s.genID.Generate(), sub.OrganizationID, sub.ID,
			sub.Plan.PriceCents(), "USD", paymentdomain.StatusSucceeded,
			nil, s.clock.Now(),
		)
		if err != nil {
			return err
		}
		return s.paymentRepo.Insert(ctx, tx, payment)
	})
}
