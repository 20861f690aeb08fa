package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/config"
	"github.com/subledger-io/subledger/internal/outbox"
	paymentdomain "github.com/subledger-io/subledger/internal/payment/domain"
	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	usagedomain "github.com/subledger-io/subledger/internal/usage/domain"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
)

// Sweep schedule, hours in UTC. Renewal runs before expiration; the two
// selections are disjoint on auto_renew, so ordering cannot change which
// rows each sweep sees.
const (
	sweepHourUTC     = 0
	retentionHourUTC = 3

	renewPeriodDays = 30

	pollInterval = time.Minute
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Cfg         config.Config
	Redis       *redis.Client
	GenID       *snowflake.Node
	SubRepo     subscriptiondomain.Repository
	UsageRepo   usagedomain.Repository
	PaymentRepo paymentdomain.Repository
	Ledger      webhookdomain.Repository
	Outbox      outbox.Publisher
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.Config
	redis       *redis.Client
	genID       *snowflake.Node
	subRepo     subscriptiondomain.Repository
	usageRepo   usagedomain.Repository
	paymentRepo paymentdomain.Repository
	ledger      webhookdomain.Repository
	outbox      outbox.Publisher
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		clock:       p.Clock,
		cfg:         p.Cfg,
		redis:       p.Redis,
		genID:       p.GenID,
		subRepo:     p.SubRepo,
		usageRepo:   p.UsageRepo,
		paymentRepo: p.PaymentRepo,
		ledger:      p.Ledger,
		outbox:      p.Outbox,
	}
}

// SweepResult is the tally of one sweep pass. A sweep never aborts on a
// per-row failure; it records the error and moves on.
type SweepResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []error
}

// jobRegistryKey holds the live job catalog. Rebuilt from scratch at
// every boot so renamed or removed jobs cannot linger as stale entries.
const jobRegistryKey = "billing:jobs"

var jobSchedules = map[string]string{
	"renewal":    "0 0 * * *",
	"expiration": "0 0 * * *",
	"retention":  "0 3 * * *",
}

func (s *Scheduler) registerJobs(ctx context.Context) {
	if err := s.redis.Del(ctx, jobRegistryKey).Err(); err != nil {
		s.log.Error("job registry reset failed", zap.Error(err))
		return
	}
	for name, schedule := range jobSchedules {
		if err := s.redis.HSet(ctx, jobRegistryKey, name, schedule).Err(); err != nil {
			s.log.Error("job registration failed", zap.String("job", name), zap.Error(err))
		}
	}
	s.log.Info("jobs registered", zap.Int("count", len(jobSchedules)))
}

// RunForever polls once a minute and fires each daily job in the minute
// its hour opens. Day-locks in Redis keep multiple scheduler replicas
// from running the same sweep twice.
func (s *Scheduler) RunForever(ctx context.Context) {
	s.log.Info("scheduler started")
	s.registerJobs(ctx)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	if now.Hour() == sweepHourUTC && now.Minute() == 0 {
		if s.acquireDayLock(ctx, "renewal", now) {
			s.report("renewal", s.RunRenewalSweep(ctx))
		}
		if s.acquireDayLock(ctx, "expiration", now) {
			s.report("expiration", s.RunExpirationSweep(ctx))
		}
	}

	if now.Hour() == retentionHourUTC && now.Minute() == 0 {
		if s.acquireDayLock(ctx, "retention", now) {
			if _, err := s.RunRetentionSweep(ctx); err != nil {
				s.log.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// acquireDayLock claims a job for the given calendar day. The first
// replica to SETNX wins; the key expires after the day is well past.
func (s *Scheduler) acquireDayLock(ctx context.Context, job string, now time.Time) bool {
	key := "billing:sweep:" + job + ":" + now.Format("2006-01-02")
	ok, err := s.redis.SetNX(ctx, key, "1", 48*time.Hour).Result()
	if err != nil {
		s.log.Error("sweep lock unavailable", zap.String("job", job), zap.Error(err))
		return false
	}
	return ok
}

func (s *Scheduler) report(job string, result SweepResult) {
	s.log.Info("sweep finished",
		zap.String("job", job),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	for _, err := range result.Errors {
		s.log.Error("sweep item failed", zap.String("job", job), zap.Error(err))
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
)
