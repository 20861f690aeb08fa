// Package outbox is a bounded in-process channel for post-commit domain
// notifications. Handlers publish after their transaction commits; the
// audit writer consumes on its own goroutine. Publishing never blocks and
// never fails the caller: when the buffer is full the notification is
// dropped and counted, which is the explicit "best-effort, at-least-once
// attempted" contract of the audit path.
package outbox

import (
	"context"
	"sync/atomic"

	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher is the write side handed to handlers and sweeps.
type Publisher interface {
	Publish(event subscriptiondomain.SubscriptionChanged)
}

// Sink receives events on the consumer side.
type Sink interface {
	Consume(ctx context.Context, event subscriptiondomain.SubscriptionChanged)
}

const defaultBuffer = 1024

type Outbox struct {
	log *zap.Logger
	ch  chan subscriptiondomain.SubscriptionChanged

	// dropped is written from every publishing goroutine.
	dropped atomic.Int64
}

func New(log *zap.Logger) *Outbox {
	return &Outbox{
		log: log.Named("outbox"),
		ch:  make(chan subscriptiondomain.SubscriptionChanged, defaultBuffer),
	}
}

func (o *Outbox) Publish(event subscriptiondomain.SubscriptionChanged) {
	select {
	case o.ch <- event:
	default:
		o.dropped.Add(1)
		o.log.Warn("outbox full, dropping event",
			zap.String("action", string(event.Action)),
			zap.Int64("organization_id", int64(event.OrganizationID)))
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Run pumps events into sink until ctx is done. Started by the fx
// lifecycle hook below.
func (o *Outbox) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-o.ch:
			sink.Consume(ctx, event)
		}
	}
}

var Module = fx.Module("outbox",
	fx.Provide(New),
	fx.Provide(func(o *Outbox) Publisher { return o }),
	fx.Invoke(start),
)

func start(lc fx.Lifecycle, o *Outbox, sink Sink) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go o.Run(ctx, sink)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
