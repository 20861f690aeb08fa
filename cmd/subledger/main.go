package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/subledger-io/subledger/internal/audit"
	"github.com/subledger-io/subledger/internal/clock"
	"github.com/subledger-io/subledger/internal/migration"
	"github.com/subledger-io/subledger/internal/observability"
	"github.com/subledger-io/subledger/internal/organization"
	"github.com/subledger-io/subledger/internal/outbox"
	"github.com/subledger-io/subledger/internal/payment"
	"github.com/subledger-io/subledger/internal/queue"
	redismodule "github.com/subledger-io/subledger/internal/redis"
	"github.com/subledger-io/subledger/internal/scheduler"
	"github.com/subledger-io/subledger/internal/server"
	"github.com/subledger-io/subledger/internal/subscription"
	"github.com/subledger-io/subledger/internal/usage"
	"github.com/subledger-io/subledger/internal/webhook"
	"github.com/subledger-io/subledger/internal/webhook/handler"
	"github.com/subledger-io/subledger/pkg/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "subledger",
		Short:   "Subledger billing pipeline",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newWorkerCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue dispatcher workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			runWorker()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the daily renewal, expiration and retention sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then gateway, workers and scheduler in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runMonolith()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redismodule.Module,
		queue.Module,
		outbox.Module,
		audit.Module,
		organization.Module,
		subscription.Module,
		payment.Module,
		usage.Module,
		webhook.Module,
		server.Module,
	)
	app.Run()
}

func runWorker() {
	app := fx.New(
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redismodule.Module,
		queue.Module,
		outbox.Module,
		audit.Module,
		subscription.Module,
		payment.Module,
		usage.Module,
		webhook.Module,
		fx.Invoke(startWorkers),
	)
	app.Run()
}

func runScheduler() {
	app := fx.New(
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redismodule.Module,
		outbox.Module,
		audit.Module,
		subscription.Module,
		payment.Module,
		usage.Module,
		webhook.Module,
		scheduler.Module,
		fx.Invoke(startScheduler),
	)
	app.Run()
}

func runMonolith() {
	app := fx.New(
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redismodule.Module,
		queue.Module,
		outbox.Module,
		audit.Module,
		organization.Module,
		subscription.Module,
		payment.Module,
		usage.Module,
		webhook.Module,
		server.Module,
		scheduler.Module,
		fx.Invoke(startWorkers),
		fx.Invoke(startScheduler),
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}

func startWorkers(lc fx.Lifecycle, q *queue.Queue, d *handler.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			q.Start(d)
			return nil
		},
		OnStop: func(context.Context) error {
			q.Stop()
			return nil
		},
	})
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
