package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/subledger-io/subledger/internal/clock"
	organizationdomain "github.com/subledger-io/subledger/internal/organization/domain"
	"github.com/subledger-io/subledger/internal/outbox"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	pkgdb "github.com/subledger-io/subledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	SubRepo   subscriptiondomain.Repository
	UsageRepo usagedomain.Repository
	Outbox    outbox.Publisher
}

// Service creates organizations. Every new organization gets a 30-day FREE
// subscription and an API-call counter in the same transaction.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	subRepo   subscriptiondomain.Repository
	usageRepo usagedomain.Repository
	outbox    outbox.Publisher
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("organization.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		subRepo:   p.SubRepo,
		usageRepo: p.UsageRepo,
		outbox:    p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, name string) (*organizationdomain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, organizationdomain.ErrInvalidName
	}

	now := s.clock.Now()
	org := &organizationdomain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		CreatedAt: now,
	}

	sub, err := subscriptiondomain.NewFree(s.genID.Generate(), org.ID, now)
	if err != nil {
		return nil, err
	}

	usage := usagedomain.New(
		s.genID.Generate(),
		org.ID,
		usagedomain.ResourceAPICalls,
		subscriptiondomain.PlanFree.APICallLimit(),
		sub.CurrentPeriodEnd,
	)

	err = pkgdb.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		if err := s.subRepo.Save(ctx, tx, sub); err != nil {
			return err
		}
		return s.usageRepo.Save(ctx, tx, usage)
	})
	if err != nil {
		return nil, err
	}

	s.outbox.Publish(subscriptiondomain.SubscriptionChanged{
		OrganizationID: org.ID,
		SubscriptionID: sub.ID,
		Action:         subscriptiondomain.ActionCreated,
		Metadata:       map[string]any{"plan": string(sub.Plan)},
	})

	s.log.Info("organization created",
		zap.Int64("organization_id", int64(org.ID)),
		zap.Int64("subscription_id", int64(sub.ID)))
	return org, nil
}
