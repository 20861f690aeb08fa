package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Provider event type strings we recognize on the wire.
const (
	EventTypePaymentSucceeded     = "payment_intent.succeeded"
	EventTypeInvoiceFailed        = "invoice.payment_failed"
	EventTypeSubscriptionCanceled = "customer.subscription.deleted"
	EventTypeCheckoutCompleted    = "checkout.session.completed"
)

// Kind discriminates the command union in job payloads and the ledger.
type Kind string

const (
	KindPaymentSucceeded     Kind = "billing.payment_succeeded"
	KindInvoiceFailed        Kind = "billing.invoice_failed"
	KindSubscriptionCanceled Kind = "billing.subscription_canceled"
	KindCheckoutCompleted    Kind = "billing.checkout_completed"
)

// ResolveKind maps a provider event type to a command kind. The second
// return is false for event types we deliberately do not handle.
func ResolveKind(eventType string) (Kind, bool) {
	switch eventType {
	case EventTypePaymentSucceeded:
		return KindPaymentSucceeded, true
	case EventTypeInvoiceFailed:
		return KindInvoiceFailed, true
	case EventTypeSubscriptionCanceled:
		return KindSubscriptionCanceled, true
	case EventTypeCheckoutCompleted:
		return KindCheckoutCompleted, true
	}
	return "", false
}

// Command is a closed union over the four normalized billing commands. The
// dispatcher type-switches over it; adding a variant without wiring a
// handler fails the exhaustiveness guard in the dispatcher.
type Command interface {
	Kind() Kind
	OrgID() snowflake.ID
	isCommand()
}

type PaymentSucceeded struct {
	OrganizationID         snowflake.ID `json:"organization_id"`
	Plan                   string       `json:"plan"`
	DurationDays           int          `json:"duration_days"`
	ProviderPaymentID      string       `json:"provider_payment_id"`
	ProviderSubscriptionID string       `json:"provider_subscription_id"`
	ProviderCustomerID     string       `json:"provider_customer_id"`
	AmountCents            int64        `json:"amount_cents"`
	Currency               string       `json:"currency"`
}

func (c PaymentSucceeded) Kind() Kind          { return KindPaymentSucceeded }
func (c PaymentSucceeded) OrgID() snowflake.ID { return c.OrganizationID }
func (PaymentSucceeded) isCommand()            {}

type InvoiceFailed struct {
	OrganizationID         snowflake.ID `json:"organization_id"`
	ProviderInvoiceID      string       `json:"provider_invoice_id"`
	ProviderSubscriptionID string       `json:"provider_subscription_id"`
	ProviderCustomerID     string       `json:"provider_customer_id"`
	AmountDueCents         int64        `json:"amount_due_cents"`
	Currency               string       `json:"currency"`
	AttemptCount           int          `json:"attempt_count"`
}

func (c InvoiceFailed) Kind() Kind          { return KindInvoiceFailed }
func (c InvoiceFailed) OrgID() snowflake.ID { return c.OrganizationID }
func (InvoiceFailed) isCommand()            {}

type SubscriptionCanceled struct {
	OrganizationID         snowflake.ID `json:"organization_id"`
	ProviderSubscriptionID string       `json:"provider_subscription_id"`
	ProviderCustomerID     string       `json:"provider_customer_id"`
}

func (c SubscriptionCanceled) Kind() Kind          { return KindSubscriptionCanceled }
func (c SubscriptionCanceled) OrgID() snowflake.ID { return c.OrganizationID }
func (SubscriptionCanceled) isCommand()            {}

type CheckoutCompleted struct {
	OrganizationID     snowflake.ID `json:"organization_id"`
	Plan               string       `json:"plan"`
	DurationDays       int          `json:"duration_days"`
	ProviderSessionID  string       `json:"provider_session_id"`
	ProviderCustomerID string       `json:"provider_customer_id"`
	AmountCents        int64        `json:"amount_cents"`
	Currency           string       `json:"currency"`
}

func (c CheckoutCompleted) Kind() Kind          { return KindCheckoutCompleted }
func (c CheckoutCompleted) OrgID() snowflake.ID { return c.OrganizationID }
func (CheckoutCompleted) isCommand()            {}

// JobPayload is what travels through the queue and is stored in the ledger
// for replay.
type JobPayload struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Kind      Kind            `json:"kind"`
	Command   json.RawMessage `json:"command"`
}

func NewJobPayload(eventID, eventType string, cmd Command) (JobPayload, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return JobPayload{}, fmt.Errorf("encode command: %w", err)
	}
	return JobPayload{
		EventID:   eventID,
		EventType: eventType,
		Kind:      cmd.Kind(),
		Command:   raw,
	}, nil
}

// DecodeCommand rebuilds the concrete command variant from a job payload.
func (p JobPayload) DecodeCommand() (Command, error) {
	switch p.Kind {
	case KindPaymentSucceeded:
		var c PaymentSucceeded
		if err := json.Unmarshal(p.Command, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindInvoiceFailed:
		var c InvoiceFailed
		if err := json.Unmarshal(p.Command, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindSubscriptionCanceled:
		var c SubscriptionCanceled
		if err := json.Unmarshal(p.Command, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindCheckoutCompleted:
		var c CheckoutCompleted
		if err := json.Unmarshal(p.Command, &c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown command kind %q", p.Kind)
}
