package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/broker/memory"
	"github.com/yyvfuruta/driva-dispatch/internal/logger"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
)

const exchange = "exchange1"

func setup(t *testing.T, patterns ...string) (*memory.Bus, []string) {
	t.Helper()
	bus := memory.New()
	require.NoError(t, bus.DeclareTopicExchange(exchange))

	var queues []string
	for _, p := range patterns {
		q, err := bus.DeclareExclusiveQueue()
		require.NoError(t, err)
		require.NoError(t, bus.BindQueue(routing.Binding{Queue: q, Pattern: p}, exchange))
		queues = append(queues, q)
	}
	return bus, queues
}

func publish(t *testing.T, bus *memory.Bus, key, body string) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), exchange, key, broker.Message{Body: []byte(body)}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestWorker_AcksHandledMessages(t *testing.T) {
	bus, queues := setup(t, "*.delivery.Cargo", "*.delivery.People")
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []string
	)
	handler := HandlerFunc(func(_ context.Context, msg broker.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Body))
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- New(bus, logger.Discard(), queues...).Run(ctx, handler)
	}()

	publish(t, bus, "A1.delivery.Cargo", "1")
	publish(t, bus, "A1.delivery.People", "2")
	publish(t, bus, "A1.delivery.Satellite", "3")
	publish(t, bus, "A1.delivery.Cargo", "4")

	waitFor(t, func() bool { return len(bus.Acked()) == 3 })

	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"1", "2", "4"}, seen)
	assert.Equal(t, 0, bus.Unacked())
}

func TestWorker_PerQueueOrder(t *testing.T) {
	bus, queues := setup(t, "#")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	go New(bus, logger.Discard(), queues...).Run(ctx, HandlerFunc(func(_ context.Context, msg broker.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Body))
		return nil
	}))

	want := []string{"a", "b", "c", "d", "e"}
	for _, body := range want {
		publish(t, bus, "x.delivery.y", body)
	}
	waitFor(t, func() bool { return len(bus.Acked()) == len(want) })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestWorker_NonFatalErrorsAreAcked(t *testing.T) {
	bus, queues := setup(t, "#")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go New(bus, logger.Discard(), queues...).Run(ctx, HandlerFunc(func(context.Context, broker.Delivery) error {
		return errors.New("malformed")
	}))

	publish(t, bus, "a.b.c", "garbage")
	waitFor(t, func() bool { return len(bus.Acked()) == 1 })
}

func TestWorker_FatalErrorStops(t *testing.T) {
	bus, queues := setup(t, "#")

	handler := HandlerFunc(func(context.Context, broker.Delivery) error {
		return broker.ErrPublishFailure
	})

	done := make(chan error, 1)
	go func() {
		done <- New(bus, logger.Discard(), queues...).Run(context.Background(), handler)
	}()

	publish(t, bus, "a.b.c", "x")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, broker.ErrPublishFailure)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Empty(t, bus.Acked())
	assert.Equal(t, 1, bus.Unacked())
}

func TestWorker_BusLoss(t *testing.T) {
	bus, queues := setup(t, "#")

	done := make(chan error, 1)
	go func() {
		done <- New(bus, logger.Discard(), queues...).Run(context.Background(), HandlerFunc(func(context.Context, broker.Delivery) error {
			return nil
		}))
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, broker.ErrBusUnavailable)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_UnknownQueue(t *testing.T) {
	bus, _ := setup(t)
	err := New(bus, logger.Discard(), "missing").Run(context.Background(), HandlerFunc(func(context.Context, broker.Delivery) error {
		return nil
	}))
	assert.ErrorIs(t, err, broker.ErrBusUnavailable)
}
