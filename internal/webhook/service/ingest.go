package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/queue"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
	"github.com/subledger-io/subledger/internal/webhook/signature"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Verifier *signature.Verifier
	Repo     webhookdomain.Repository
	Queue    *queue.Queue
}

// Ingest is the synchronous webhook gateway. It verifies, records and
// enqueues; it never executes business logic, so the provider gets its
// acknowledgement in milliseconds regardless of downstream health.
type Ingest struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	verifier *signature.Verifier
	repo     webhookdomain.Repository
	queue    *queue.Queue
}

func NewIngest(p Params) *Ingest {
	return &Ingest{
		db:       p.DB,
		log:      p.Log.Named("webhook.ingest"),
		clock:    p.Clock,
		verifier: p.Verifier,
		repo:     p.Repo,
		queue:    p.Queue,
	}
}

// Result reports what the gateway did with a delivery. Every non-error
// outcome is acknowledged to the provider identically; the distinction
// exists for logging and tests.
type Result struct {
	EventID   string
	Duplicate bool
	Unhandled bool
}

// Receive runs the full acceptance pipeline for one provider delivery.
// On success the event is durably recorded and queued; the caller may
// acknowledge. Errors are one of the domain sentinels and map to HTTP
// status codes at the transport layer.
func (s *Ingest) Receive(ctx context.Context, rawBody []byte, signatureHeader string) (*Result, error) {
	if len(rawBody) == 0 {
		return nil, webhookdomain.ErrEmptyBody
	}
	if err := s.verifier.Verify(rawBody, signatureHeader); err != nil {
		s.log.Warn("signature verification failed", zap.Error(err))
		return nil, webhookdomain.ErrInvalidSignature
	}

	var envelope webhookdomain.Envelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, webhookdomain.ErrMalformedEvent
	}
	if envelope.ID == "" || envelope.Type == "" || envelope.Data.Object == nil {
		return nil, webhookdomain.ErrMalformedEvent
	}

	existing, err := s.repo.FindByID(ctx, s.db, envelope.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info("duplicate delivery absorbed",
			zap.String("event_id", envelope.ID),
			zap.String("status", string(existing.Status)))
		return &Result{EventID: envelope.ID, Duplicate: true}, nil
	}

	now := s.clock.Now()

	kind, handled := webhookdomain.ResolveKind(envelope.Type)
	if !handled {
		row := &webhookdomain.WebhookEvent{
			ID:         envelope.ID,
			Type:       envelope.Type,
			Status:     webhookdomain.StatusUnhandled,
			ReceivedAt: now,
		}
		if err := s.repo.Insert(ctx, s.db, row); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &Result{EventID: envelope.ID, Duplicate: true}, nil
			}
			return nil, err
		}
		s.log.Info("unhandled event type recorded",
			zap.String("event_id", envelope.ID),
			zap.String("event_type", envelope.Type))
		return &Result{EventID: envelope.ID, Unhandled: true}, nil
	}

	cmd := parseCommand(kind, envelope.Data.Object)
	payload, err := webhookdomain.NewJobPayload(envelope.ID, envelope.Type, cmd)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	row := &webhookdomain.WebhookEvent{
		ID:         envelope.ID,
		Type:       envelope.Type,
		Status:     webhookdomain.StatusPending,
		Payload:    datatypes.JSON(encoded),
		ReceivedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		// Lost the insert race against a concurrent delivery of the same
		// event. The winner owns the queue entry.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &Result{EventID: envelope.ID, Duplicate: true}, nil
		}
		return nil, err
	}

	if _, err := s.queue.Enqueue(ctx, envelope.ID, string(kind), encoded, envelope.ID); err != nil {
		// The ledger row exists, so the event is not lost: an operator
		// replay can re-enqueue it.
		s.log.Error("enqueue failed after ledger insert",
			zap.String("event_id", envelope.ID), zap.Error(err))
		return nil, err
	}

	s.log.Info("event accepted",
		zap.String("event_id", envelope.ID),
		zap.String("kind", string(kind)))
	return &Result{EventID: envelope.ID}, nil
}

// parseCommand normalizes a provider data object into the internal command
// shape. Extraction is best effort: absent correlation metadata yields a
// zero organization ID, which the dispatcher rejects as a business-rule
// violation rather than a transport failure.
func parseCommand(kind webhookdomain.Kind, object map[string]any) webhookdomain.Command {
	meta := objMeta(object)

	switch kind {
	case webhookdomain.KindPaymentSucceeded:
		return webhookdomain.PaymentSucceeded{
			OrganizationID:         metaOrgID(meta),
			Plan:                   metaString(meta, "plan"),
			DurationDays:           metaInt(meta, "durationInDays", 30),
			ProviderPaymentID:      objString(object, "id"),
			ProviderSubscriptionID: objString(object, "subscription"),
			ProviderCustomerID:     objString(object, "customer"),
			AmountCents:            objInt64(object, "amount_received"),
			Currency:               objCurrency(object),
		}
	case webhookdomain.KindInvoiceFailed:
		return webhookdomain.InvoiceFailed{
			OrganizationID:         metaOrgID(meta),
			ProviderInvoiceID:      objString(object, "id"),
			ProviderSubscriptionID: objString(object, "subscription"),
			ProviderCustomerID:     objString(object, "customer"),
			AmountDueCents:         objInt64(object, "amount_due"),
			Currency:               objCurrency(object),
			AttemptCount:           int(objInt64WithDefault(object, "attempt_count", 1)),
		}
	case webhookdomain.KindSubscriptionCanceled:
		return webhookdomain.SubscriptionCanceled{
			OrganizationID:         metaOrgID(meta),
			ProviderSubscriptionID: objString(object, "id"),
			ProviderCustomerID:     objString(object, "customer"),
		}
	case webhookdomain.KindCheckoutCompleted:
		return webhookdomain.CheckoutCompleted{
			OrganizationID:     metaOrgID(meta),
			Plan:               metaString(meta, "plan"),
			DurationDays:       metaInt(meta, "durationInDays", 30),
			ProviderSessionID:  objString(object, "id"),
			ProviderCustomerID: objString(object, "customer"),
			AmountCents:        objInt64(object, "amount_total"),
			Currency:           objCurrency(object),
		}
	}
	return nil
}

func objMeta(object map[string]any) map[string]any {
	if m, ok := object["metadata"].(map[string]any); ok {
		return m
	}
	return nil
}

func metaOrgID(meta map[string]any) snowflake.ID {
	raw, ok := meta["organizationId"].(string)
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return snowflake.ID(id)
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

func metaInt(meta map[string]any, key string, def int) int {
	raw, ok := meta[key].(string)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func objString(object map[string]any, key string) string {
	v, _ := object[key].(string)
	return v
}

func objInt64(object map[string]any, key string) int64 {
	return objInt64WithDefault(object, key, 0)
}

func objInt64WithDefault(object map[string]any, key string, def int64) int64 {
	switch v := object[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def
		}
		return n
	}
	return def
}

func objCurrency(object map[string]any) string {
	if c := objString(object, "currency"); c != "" {
		return c
	}
	return "usd"
}
