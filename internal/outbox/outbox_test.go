package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	subscriptiondomain "github.com/subledger-io/subledger/internal/subscription/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []subscriptiondomain.SubscriptionChanged
}

func (s *captureSink) Consume(_ context.Context, event subscriptiondomain.SubscriptionChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestRunDeliversPublishedEvents(t *testing.T) {
	o := New(zap.NewNop())
	sink := &captureSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx, sink)

	o.Publish(subscriptiondomain.SubscriptionChanged{
		OrganizationID: 42,
		Action:         subscriptiondomain.ActionRenewed,
	})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, subscriptiondomain.ActionRenewed, sink.events[0].Action)
	assert.EqualValues(t, 0, o.Dropped())
}

func TestPublishOnFullBufferDropsConcurrently(t *testing.T) {
	o := New(zap.NewNop())
	event := subscriptiondomain.SubscriptionChanged{Action: subscriptiondomain.ActionExpired}

	// No consumer running; fill the buffer so every further publish drops.
	for i := 0; i < defaultBuffer; i++ {
		o.Publish(event)
	}

	const publishers, perPublisher = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				o.Publish(event)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, publishers*perPublisher, o.Dropped())
	assert.Len(t, o.ch, defaultBuffer)
}
