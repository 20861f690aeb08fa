package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/outbox"
	paymentdomain "github.com/subledger-io/subledger/internal/payment/domain"
	"github.com/subledger-io/subledger/internal/queue"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Ledger      webhookdomain.Repository
	SubRepo     subscriptiondomain.Repository
	PaymentRepo paymentdomain.Repository
	UsageRepo   usagedomain.Repository
	Outbox      outbox.Publisher
}

// Dispatcher consumes queued billing commands and updates the ledger with
// the outcome. Outcome classification is the heart of the retry contract:
//
//	business-rule rejection  -> IGNORED, delivery succeeds, no retry
//	idempotent conflict      -> PROCESSED, the work already happened
//	anything else            -> attempt fails, queue backoff decides
type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	ledger      webhookdomain.Repository
	subRepo     subscriptiondomain.Repository
	paymentRepo paymentdomain.Repository
	usageRepo   usagedomain.Repository
	outbox      outbox.Publisher
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("webhook.dispatcher"),
		clock:       p.Clock,
		genID:       p.GenID,
		ledger:      p.Ledger,
		subRepo:     p.SubRepo,
		paymentRepo: p.PaymentRepo,
		usageRepo:   p.UsageRepo,
		outbox:      p.Outbox,
	}
}

var _ queue.Consumer = (*Dispatcher)(nil)

func (d *Dispatcher) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload webhookdomain.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// A payload we wrote ourselves failed to decode. Retrying cannot
		// change the bytes, so poison the row instead of the queue.
		d.log.Error("undecodable job payload",
			zap.String("job_id", job.ID), zap.Error(err))
		return d.ledger.MarkIgnored(ctx, d.db, job.ID, "undecodable job payload")
	}

	row, err := d.ledger.FindByID(ctx, d.db, payload.EventID)
	if err != nil {
		return err
	}
	if row != nil && row.Status != webhookdomain.StatusPending {
		d.log.Info("skipping settled event",
			zap.String("event_id", payload.EventID),
			zap.String("status", string(row.Status)))
		return nil
	}

	cmd, err := payload.DecodeCommand()
	if err != nil {
		d.log.Error("undecodable command",
			zap.String("event_id", payload.EventID), zap.Error(err))
		return d.ledger.MarkIgnored(ctx, d.db, payload.EventID, "undecodable command")
	}

	var event *subscriptiondomain.SubscriptionChanged
	switch c := cmd.(type) {
	case webhookdomain.PaymentSucceeded:
		event, err = d.paymentSucceeded(ctx, c)
	case webhookdomain.InvoiceFailed:
		event, err = d.invoiceFailed(ctx, c)
	case webhookdomain.SubscriptionCanceled:
		event, err = d.subscriptionCanceled(ctx, c)
	case webhookdomain.CheckoutCompleted:
		event, err = d.checkoutCompleted(ctx, c)
	default:
		// Only corrupted data lands here: the gateway enqueues exactly the
		// kinds the union covers. Retrying cannot help.
		d.log.Error("no handler for command kind",
			zap.String("event_id", payload.EventID),
			zap.String("kind", string(cmd.Kind())))
		return d.ledger.MarkIgnored(ctx, d.db, payload.EventID, fmt.Sprintf("no handler for kind %q", cmd.Kind()))
	}

	if err == nil {
		if markErr := d.ledger.MarkProcessed(ctx, d.db, payload.EventID, d.clock.Now()); markErr != nil {
			return markErr
		}
		if event != nil {
			d.outbox.Publish(*event)
		}
		return nil
	}

	if isBusinessRejection(err) {
		d.log.Info("event ignored by business rule",
			zap.String("event_id", payload.EventID),
			zap.String("kind", string(payload.Kind)),
			zap.Error(err))
		return d.ledger.MarkIgnored(ctx, d.db, payload.EventID, err.Error())
	}

	if errors.Is(err, paymentdomain.ErrDuplicateProviderPayment) {
		d.log.Info("payment already applied",
			zap.String("event_id", payload.EventID))
		return d.ledger.MarkProcessed(ctx, d.db, payload.EventID, d.clock.Now())
	}

	// Transient: let the queue retry.
	return err
}

// HandleDead marks the ledger row FAILED once all retry attempts are spent.
// The row becomes visible in the dead-letter listing and eligible for
// operator replay.
func (d *Dispatcher) HandleDead(ctx context.Context, job *queue.Job, cause error) {
	var payload webhookdomain.JobPayload
	eventID := job.ID
	if err := json.Unmarshal(job.Payload, &payload); err == nil && payload.EventID != "" {
		eventID = payload.EventID
	}

	if err := d.ledger.MarkFailed(ctx, d.db, eventID, cause.Error(), d.clock.Now()); err != nil {
		d.log.Error("failed to dead-letter ledger row",
			zap.String("event_id", eventID), zap.Error(err))
		return
	}
	d.log.Warn("event dead-lettered",
		zap.String("event_id", eventID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause))
}

// isBusinessRejection reports whether err means the command itself is
// invalid against current state, as opposed to the system failing to apply
// it. Retrying a business rejection can never succeed.
func isBusinessRejection(err error) bool {
	return errors.Is(err, webhookdomain.ErrMissingOrganization) ||
		errors.Is(err, subscriptiondomain.ErrInvalidTransition) ||
		subscriptiondomain.IsValidationError(err)
}
