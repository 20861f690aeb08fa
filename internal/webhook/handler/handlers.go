package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	paymentdomain "github.com/subledger-io/subledger/internal/payment/domain"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
	pkgdb "github.com/subledger-io/subledger/pkg/db"
)

// Invoice failures below this attempt count are recorded but do not touch
// the subscription. At or past it the subscription expires.
const expireAttemptThreshold = 3

// paymentSucceeded applies a confirmed provider charge: the subscription
// switches to the paid plan with a fresh period, the charge is recorded
// against the provider payment ID, and the usage counter resets to the new
// plan's allowance.
func (d *Dispatcher) paymentSucceeded(ctx context.Context, c webhookdomain.PaymentSucceeded) (*subscriptiondomain.SubscriptionChanged, error) {
	if c.OrganizationID == 0 {
		return nil, webhookdomain.ErrMissingOrganization
	}
	plan := resolvePlan(c.Plan)
	now := d.clock.Now()

	var event *subscriptiondomain.SubscriptionChanged
	err := pkgdb.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		sub, err := d.subRepo.FindByOrganizationID(ctx, tx, c.OrganizationID)
		if err != nil {
			return err
		}
		if sub == nil {
			// The charge can land before our own records do. Retry.
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if err := sub.UpgradeTo(plan, c.DurationDays, now); err != nil {
			return err
		}
		if err := d.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}

		payment, err := paymentdomain.New(
			d.genID.Generate(), c.OrganizationID, sub.ID,
			c.AmountCents, c.Currency, paymentdomain.StatusSucceeded,
			strPtr(c.ProviderPaymentID), now,
		)
		if err != nil {
			return err
		}
		if err := d.paymentRepo.Insert(ctx, tx, payment); err != nil {
			return err
		}

		if err := d.resetUsage(ctx, tx, sub); err != nil {
			return err
		}

		event = &subscriptiondomain.SubscriptionChanged{
			OrganizationID: c.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         subscriptiondomain.ActionUpgraded,
			Metadata: map[string]any{
				"plan":                string(plan),
				"provider_payment_id": c.ProviderPaymentID,
				"amount_cents":        c.AmountCents,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("payment applied",
		zap.Int64("organization_id", int64(c.OrganizationID)),
		zap.String("plan", string(plan)),
		zap.Int64("amount_cents", c.AmountCents))
	return event, nil
}

// invoiceFailed records the failed charge. The subscription survives the
// first failures; at the attempt threshold it expires.
func (d *Dispatcher) invoiceFailed(ctx context.Context, c webhookdomain.InvoiceFailed) (*subscriptiondomain.SubscriptionChanged, error) {
	if c.OrganizationID == 0 {
		return nil, webhookdomain.ErrMissingOrganization
	}
	now := d.clock.Now()

	var event *subscriptiondomain.SubscriptionChanged
	err := pkgdb.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		sub, err := d.subRepo.FindByOrganizationID(ctx, tx, c.OrganizationID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		payment, err := paymentdomain.New(
			d.genID.Generate(), c.OrganizationID, sub.ID,
			c.AmountDueCents, c.Currency, paymentdomain.StatusFailed,
			nil, now,
		)
		if err != nil {
			return err
		}
		if err := d.paymentRepo.Insert(ctx, tx, payment); err != nil {
			return err
		}

		if c.AttemptCount < expireAttemptThreshold {
			d.log.Warn("invoice payment failed",
				zap.Int64("organization_id", int64(c.OrganizationID)),
				zap.String("provider_invoice_id", c.ProviderInvoiceID),
				zap.Int("attempt", c.AttemptCount))
			return nil
		}

		if err := sub.Expire(); err != nil {
			return err
		}
		if err := d.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}

		event = &subscriptiondomain.SubscriptionChanged{
			OrganizationID: c.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         subscriptiondomain.ActionExpired,
			Metadata: map[string]any{
				"plan":                string(sub.Plan),
				"provider_invoice_id": c.ProviderInvoiceID,
				"attempt_count":       c.AttemptCount,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if event != nil {
		d.log.Error("subscription expired after repeated payment failures",
			zap.Int64("organization_id", int64(c.OrganizationID)),
			zap.Int("attempt_count", c.AttemptCount))
	}
	return event, nil
}

func (d *Dispatcher) subscriptionCanceled(ctx context.Context, c webhookdomain.SubscriptionCanceled) (*subscriptiondomain.SubscriptionChanged, error) {
	if c.OrganizationID == 0 {
		return nil, webhookdomain.ErrMissingOrganization
	}

	var event *subscriptiondomain.SubscriptionChanged
	err := pkgdb.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		sub, err := d.subRepo.FindByOrganizationID(ctx, tx, c.OrganizationID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		oldPlan := sub.Plan
		if err := sub.Cancel(); err != nil {
			return err
		}
		if err := d.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}

		event = &subscriptiondomain.SubscriptionChanged{
			OrganizationID: c.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         subscriptiondomain.ActionCanceled,
			Metadata: map[string]any{
				"plan":                     string(oldPlan),
				"provider_subscription_id": c.ProviderSubscriptionID,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("subscription canceled",
		zap.Int64("organization_id", int64(c.OrganizationID)))
	return event, nil
}

// checkoutCompleted provisions the purchased plan. An organization with no
// live subscription row gets a fresh one; otherwise this behaves like a
// paid upgrade.
func (d *Dispatcher) checkoutCompleted(ctx context.Context, c webhookdomain.CheckoutCompleted) (*subscriptiondomain.SubscriptionChanged, error) {
	if c.OrganizationID == 0 {
		return nil, webhookdomain.ErrMissingOrganization
	}
	plan := resolvePlan(c.Plan)
	now := d.clock.Now()

	var event *subscriptiondomain.SubscriptionChanged
	err := pkgdb.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		sub, err := d.subRepo.FindByOrganizationID(ctx, tx, c.OrganizationID)
		if err != nil {
			return err
		}

		action := subscriptiondomain.ActionUpgraded
		if sub == nil {
			sub, err = subscriptiondomain.New(d.genID.Generate(), c.OrganizationID, plan, c.DurationDays, now)
			if err != nil {
				return err
			}
			action = subscriptiondomain.ActionCreated
		} else if err := sub.UpgradeTo(plan, c.DurationDays, now); err != nil {
			return err
		}
		if err := d.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}

		payment, err := paymentdomain.New(
			d.genID.Generate(), c.OrganizationID, sub.ID,
			c.AmountCents, c.Currency, paymentdomain.StatusSucceeded,
			strPtr(c.ProviderSessionID), now,
		)
		if err != nil {
			return err
		}
		if err := d.paymentRepo.Insert(ctx, tx, payment); err != nil {
			return err
		}

		if err := d.resetUsage(ctx, tx, sub); err != nil {
			return err
		}

		event = &subscriptiondomain.SubscriptionChanged{
			OrganizationID: c.OrganizationID,
			SubscriptionID: sub.ID,
			Action:         action,
			Metadata: map[string]any{
				"plan":                string(plan),
				"provider_session_id": c.ProviderSessionID,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("checkout applied",
		zap.Int64("organization_id", int64(c.OrganizationID)),
		zap.String("plan", string(plan)))
	return event, nil
}

// resetUsage opens a fresh usage window matching the subscription's new
// period and plan allowance. An organization without a counter gets one.
func (d *Dispatcher) resetUsage(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	usage, err := d.usageRepo.FindByOrganizationAndResource(ctx, tx, sub.OrganizationID, usagedomain.ResourceAPICalls)
	if err != nil {
		return err
	}
	if usage == nil {
		usage = usagedomain.New(
			d.genID.Generate(), sub.OrganizationID,
			usagedomain.ResourceAPICalls,
			sub.Plan.APICallLimit(), sub.CurrentPeriodEnd,
		)
	} else {
		usage.Reset(sub.Plan.APICallLimit(), sub.CurrentPeriodEnd)
	}
	return d.usageRepo.Save(ctx, tx, usage)
}

// resolvePlan normalizes the provider metadata plan string. Unknown values
// fall back to PRO, matching the checkout default.
func resolvePlan(s string) subscriptiondomain.Plan {
	plan := subscriptiondomain.Plan(strings.ToUpper(strings.TrimSpace(s)))
	if !plan.Valid() {
		return subscriptiondomain.PlanPro
	}
	return plan
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
