package queue

import (
	"encoding/json"
	"time"
)

// Job is one queued delivery. ID doubles as the dedup key: for webhook
// jobs it is the provider event ID, so a provider retry that slips past
// the ledger pre-check still collapses onto the same queue entry.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// FinalAttempt reports whether the current delivery is the last one the
// retry policy allows.
func (j *Job) FinalAttempt() bool {
	return j.Attempts >= j.MaxAttempts
}
