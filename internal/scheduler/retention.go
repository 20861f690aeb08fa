package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// RunRetentionSweep deletes settled ledger rows older than the retention
// window. FAILED rows are exempt: the dead-letter set stays inspectable
// until an operator replays or the row settles some other way.
func (s *Scheduler) RunRetentionSweep(ctx context.Context) (int64, error) {
	days := s.cfg.WebhookRetentionDays
	if days <= 0 {
		s.log.Info("ledger retention disabled", zap.Int("days", days))
		return 0, nil
	}

	cutoff := s.clock.Now().AddDate(0, 0, -days)
	deleted, err := s.ledger.DeleteTerminalBefore(ctx, s.db, cutoff)
	if err != nil {
		s.log.Error("ledger retention failed", zap.Error(err))
		return 0, err
	}

	s.log.Info("ledger retention completed",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
