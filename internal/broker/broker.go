// Package broker provides a wrapper around the amqp client.
//
// A Broker owns one connection and one channel. Publishes, acknowledgements
// and declarations from any goroutine are serialized on that channel.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/queue"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
)

// Broker is a wrapper around the amqp client. It dials lazily: nothing
// touches the network until Connect.
type Broker struct {
	cfg    config.Broker
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(cfg config.Broker, logger *slog.Logger) *Broker {
	return &Broker{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect opens the connection and the channel. Calling it again once
// connected is a no-op.
func (b *Broker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		return nil
	}

	conn, err := queue.NewConnection(b.cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to RabbitMQ: %w", ErrBusUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: failed to open a channel: %w", ErrBusUnavailable, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			b.logger.Error("Connection to RabbitMQ lost", "error", err)
		}
	}()

	b.conn = conn
	b.channel = ch
	return nil
}

// ready must be called with mu held.
func (b *Broker) ready() error {
	if b.channel == nil {
		return fmt.Errorf("%w: not connected", ErrBusUnavailable)
	}
	if b.channel.IsClosed() {
		return fmt.Errorf("%w: channel is closed", ErrBusUnavailable)
	}
	return nil
}

// DeclareTopicExchange declares the shared topic exchange. Declaring an
// existing exchange with the same parameters is a no-op.
func (b *Broker) DeclareTopicExchange(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}

	err := b.channel.ExchangeDeclare(
		name,         // name
		ExchangeType, // type
		false,        // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("%w: failed to declare an exchange: %w", ErrBusUnavailable, err)
	}

	return nil
}

// DeclareExclusiveQueue declares a server-named queue private to this
// connection and returns its name.
func (b *Broker) DeclareExclusiveQueue() (string, error) {
	return b.declareQueue("", false, true)
}

// DeclareSharedQueue declares a named queue that several consumers may read
// from, each message going to exactly one of them.
func (b *Broker) DeclareSharedQueue(name string) (string, error) {
	return b.declareQueue(name, true, false)
}

func (b *Broker) declareQueue(name string, durable, exclusive bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return "", err
	}

	q, err := b.channel.QueueDeclare(
		name,      // name
		durable,   // durable
		exclusive, // delete when unused
		exclusive, // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to declare a queue: %w", ErrBusUnavailable, err)
	}

	return q.Name, nil
}

// BindQueue binds a queue to the exchange under the binding's pattern.
func (b *Broker) BindQueue(binding routing.Binding, exchange string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}

	err := b.channel.QueueBind(
		binding.Queue,   // queue name
		binding.Pattern, // routing key
		exchange,        // exchange
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return fmt.Errorf("%w: failed to bind a queue: %w", ErrBusUnavailable, err)
	}

	return nil
}

// Publish publishes a message to an exchange. It returns once the broker has
// accepted the frame; no delivery confirmation is awaited.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}

	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	err := b.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   ContentType,
			MessageId:     msg.MessageID,
			CorrelationId: msg.CorrelationID,
			Timestamp:     time.Now(),
			Body:          msg.Body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}

	return nil
}

// Consume consumes messages from a queue with manual acknowledgement. The
// returned channel is closed when ctx is done or the broker stops delivering.
func (b *Broker) Consume(ctx context.Context, queueName string) (<-chan Delivery, error) {
	tag := uuid.NewString()

	b.mu.Lock()
	if err := b.ready(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	d, err := b.channel.Consume(
		queueName, // queue
		tag,       // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to register a consumer: %w", ErrBusUnavailable, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.cancel(tag)
				return
			case msg, ok := <-d:
				if !ok {
					return
				}
				select {
				case out <- fromAMQP(queueName, msg):
				case <-ctx.Done():
					b.cancel(tag)
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *Broker) cancel(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready() != nil {
		return
	}
	if err := b.channel.Cancel(tag, false); err != nil {
		b.logger.Warn("Failed to cancel consumer", "consumer", tag, "error", err)
	}
}

// Ack acknowledges a single delivery.
func (b *Broker) Ack(d Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}
	if err := b.channel.Ack(d.Tag, false); err != nil {
		return fmt.Errorf("%w: failed to ack delivery %d: %w", ErrBusUnavailable, d.Tag, err)
	}
	return nil
}

// Close closes the channel and the connection. Exclusive queues are removed
// by the broker.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		b.conn.Close()
		return err
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
