package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/subledger-io/subledger/internal/audit/domain"
	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/outbox"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Writer persists one audit row per subscription-change notification. It is
// the only outbox consumer; write failures are logged and swallowed so the
// pump never stalls.
type Writer struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewWriter(db *gorm.DB, log *zap.Logger, genID *snowflake.Node, clk clock.Clock) *Writer {
	return &Writer{
		db:    db,
		log:   log.Named("audit.writer"),
		genID: genID,
		clock: clk,
	}
}

func (w *Writer) Consume(ctx context.Context, event subscriptiondomain.SubscriptionChanged) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		metadata = nil
	}

	orgID := event.OrganizationID
	targetID := event.SubscriptionID.String()
	row := &auditdomain.AuditLog{
		ID:             w.genID.Generate(),
		OrganizationID: &orgID,
		Action:         "subscription." + strings.ToLower(string(event.Action)),
		TargetType:     "subscription",
		TargetID:       &targetID,
		Metadata:       metadata,
		CreatedAt:      w.clock.Now(),
	}

	if err := w.db.WithContext(ctx).Create(row).Error; err != nil {
		w.log.Error("audit write failed",
			zap.String("action", row.Action),
			zap.String("subscription_id", targetID),
			zap.Error(err))
	}
}

var _ outbox.Sink = (*Writer)(nil)
