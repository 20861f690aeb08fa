package domain

import "github.com/bwmarrin/snowflake"

// ChangeAction names the state-machine operation behind a
// SubscriptionChanged notification.
type ChangeAction string

const (
	ActionCreated  ChangeAction = "CREATED"
	ActionUpgraded ChangeAction = "UPGRADED"
	ActionRenewed  ChangeAction = "RENEWED"
	ActionCanceled ChangeAction = "CANCELED"
	ActionExpired  ChangeAction = "EXPIRED"
)

// SubscriptionChanged is published after a handler or sweep commits. It is
// delivered at-least-once and best-effort; losing one must never roll back
// the transaction that produced it.
type SubscriptionChanged struct {
	OrganizationID snowflake.ID
	SubscriptionID snowflake.ID
	Action         ChangeAction
	Metadata       map[string]any
}
