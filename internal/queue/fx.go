package queue

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/subledger-io/subledger/internal/config"
)

var Module = fx.Module("queue",
	fx.Provide(newQueue),
)

func newQueue(client *redis.Client, log *zap.Logger, cfg config.Config) *Queue {
	return New(client, log, Options{
		Concurrency: cfg.WorkerConcurrency,
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: time.Duration(cfg.JobBackoffBaseSeconds) * time.Second,
	})
}
