package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
)

// ListFailed exposes the dead-letter set for operator inspection.
func (s *Ingest) ListFailed(ctx context.Context, limit int) ([]*webhookdomain.WebhookEvent, error) {
	return s.repo.ListFailed(ctx, s.db, limit)
}

// Replay re-queues one dead-lettered event. The ledger row flips back to
// PENDING and the job gets a fresh ID suffix so the queue's dedup key from
// the original run cannot absorb it. Only FAILED rows with a stored
// payload qualify.
func (s *Ingest) Replay(ctx context.Context, eventID string) error {
	row, err := s.repo.FindByID(ctx, s.db, eventID)
	if err != nil {
		return err
	}
	if row == nil {
		return webhookdomain.ErrEventNotFound
	}
	if row.Status != webhookdomain.StatusFailed || len(row.Payload) == 0 {
		return webhookdomain.ErrNotReplayable
	}

	var payload webhookdomain.JobPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return webhookdomain.ErrNotReplayable
	}

	if err := s.repo.ResetForReplay(ctx, s.db, eventID); err != nil {
		return err
	}

	jobID := eventID + "_replay_" + uuid.NewString()
	if _, err := s.queue.Enqueue(ctx, jobID, string(payload.Kind), json.RawMessage(row.Payload), jobID); err != nil {
		// Put the row back in the dead-letter set; a PENDING row with no
		// queued job could never be replayed again.
		if markErr := s.repo.MarkFailed(ctx, s.db, eventID, "replay enqueue: "+err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("restoring failed status after enqueue error",
				zap.String("event_id", eventID), zap.Error(markErr))
		}
		return err
	}

	s.log.Info("event replayed",
		zap.String("event_id", eventID),
		zap.String("job_id", jobID))
	return nil
}
