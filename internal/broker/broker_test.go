package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/logger"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
)

// These tests talk to a real RabbitMQ and only run with RABBITMQ_INTEGRATION=1.
func newIntegrationBroker(t *testing.T) *Broker {
	t.Helper()
	if os.Getenv("RABBITMQ_INTEGRATION") != "1" {
		t.Skip("set RABBITMQ_INTEGRATION=1 to run against a live broker")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	b := New(cfg.Broker, logger.Discard())
	require.NoError(t, b.Connect())
	require.NoError(t, b.Connect())
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBroker_TopicRouting(t *testing.T) {
	b := newIntegrationBroker(t)
	const exchange = "driva-dispatch-test"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, b.DeclareTopicExchange(exchange))
	require.NoError(t, b.DeclareTopicExchange(exchange))

	cargo, err := b.DeclareExclusiveQueue()
	require.NoError(t, err)
	people, err := b.DeclareExclusiveQueue()
	require.NoError(t, err)
	assert.NotEqual(t, cargo, people)

	require.NoError(t, b.BindQueue(routing.Binding{Queue: cargo, Pattern: routing.DeliveryPattern("Cargo")}, exchange))
	require.NoError(t, b.BindQueue(routing.Binding{Queue: people, Pattern: routing.DeliveryPattern("People")}, exchange))

	cargoCh, err := b.Consume(ctx, cargo)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, exchange, routing.DeliveryKey("A1", "Cargo"), Message{Body: []byte("1:A1:Cargo"), MessageID: "m-1"}))

	select {
	case d := <-cargoCh:
		assert.Equal(t, "1:A1:Cargo", string(d.Body))
		assert.Equal(t, "m-1", d.MessageID)
		assert.Equal(t, cargo, d.Queue)
		require.NoError(t, b.Ack(d))
	case <-ctx.Done():
		t.Fatal("no delivery")
	}
}

func TestBroker_PublishAfterClose(t *testing.T) {
	b := newIntegrationBroker(t)
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "amq.topic", "a.b.c", Message{})
	assert.ErrorIs(t, err, ErrBusUnavailable)
}

func TestBroker_CloseTwice(t *testing.T) {
	b := newIntegrationBroker(t)
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestBroker_NotConnected(t *testing.T) {
	b := New(config.Broker{Host: "127.0.0.1", Port: "1", UserName: "guest", UserPass: "guest"}, logger.Discard())

	assert.ErrorIs(t, b.DeclareTopicExchange("orders"), ErrBusUnavailable)
	_, err := b.DeclareExclusiveQueue()
	assert.ErrorIs(t, err, ErrBusUnavailable)
	_, err = b.DeclareSharedQueue("shared")
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.ErrorIs(t, b.BindQueue(routing.Binding{Queue: "q", Pattern: "#"}, "orders"), ErrBusUnavailable)
	assert.ErrorIs(t, b.Publish(context.Background(), "orders", "a.b.c", Message{}), ErrBusUnavailable)
	_, err = b.Consume(context.Background(), "q")
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.ErrorIs(t, b.Ack(Delivery{Tag: 1}), ErrBusUnavailable)
	assert.NoError(t, b.Close())
}

