// Package memory provides an in-process topic exchange with the same
// contract as the RabbitMQ broker wrapper. Several agencies and carriers can
// share one Bus the way they would share a broker.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
)

const defaultQueueSize = 1024

// Publication records one accepted publish.
type Publication struct {
	Exchange   string
	RoutingKey string
	Message    broker.Message
}

type queue struct {
	name     string
	messages chan broker.Delivery
}

// Bus is a thread-safe in-memory topic bus.
type Bus struct {
	mu        sync.Mutex
	exchanges map[string][]routing.Binding
	queues    map[string]*queue
	pending   map[uint64]broker.Delivery
	acked     []broker.Delivery
	published []Publication
	nextTag   uint64
	queueSize int
	connects  int
	closed    bool

	connectErr error
	publishErr error
}

func New() *Bus {
	return &Bus{
		exchanges: make(map[string][]routing.Binding),
		queues:    make(map[string]*queue),
		pending:   make(map[uint64]broker.Delivery),
		queueSize: defaultQueueSize,
	}
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if b.connectErr != nil {
		return fmt.Errorf("%w: %w", broker.ErrBusUnavailable, b.connectErr)
	}
	b.connects++
	return nil
}

func (b *Bus) DeclareTopicExchange(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if _, ok := b.exchanges[name]; !ok {
		b.exchanges[name] = nil
	}
	return nil
}

func (b *Bus) DeclareExclusiveQueue() (string, error) {
	return b.declareQueue(broker.GeneratedQueuePrefix + uuid.NewString())
}

func (b *Bus) DeclareSharedQueue(name string) (string, error) {
	return b.declareQueue(name)
}

func (b *Bus) declareQueue(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{
			name:     name,
			messages: make(chan broker.Delivery, b.queueSize),
		}
	}
	return name, nil
}

func (b *Bus) BindQueue(binding routing.Binding, exchange string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	bindings, ok := b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("%w: no exchange %q", broker.ErrBusUnavailable, exchange)
	}
	if _, ok := b.queues[binding.Queue]; !ok {
		return fmt.Errorf("%w: no queue %q", broker.ErrBusUnavailable, binding.Queue)
	}
	if !slices.Contains(bindings, binding) {
		b.exchanges[exchange] = append(bindings, binding)
	}
	return nil
}

// Publish routes msg to every queue with at least one matching binding. Each
// queue receives the message once. If any target queue is full, no queue
// receives it.
func (b *Bus) Publish(_ context.Context, exchange, routingKey string, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if b.publishErr != nil {
		return fmt.Errorf("%w: %w", broker.ErrPublishFailure, b.publishErr)
	}
	bindings, ok := b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("%w: no exchange %q", broker.ErrPublishFailure, exchange)
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	var targets []*queue
	for _, binding := range bindings {
		q := b.queues[binding.Queue]
		if routing.Match(binding.Pattern, routingKey) && !slices.Contains(targets, q) {
			targets = append(targets, q)
		}
	}

	for _, q := range targets {
		if len(q.messages) == cap(q.messages) {
			return fmt.Errorf("%w: queue %q is full", broker.ErrPublishFailure, q.name)
		}
	}

	for _, q := range targets {
		b.nextTag++
		d := broker.Delivery{
			Queue:         q.name,
			RoutingKey:    routingKey,
			Body:          slices.Clone(msg.Body),
			MessageID:     msg.MessageID,
			CorrelationID: msg.CorrelationID,
			Tag:           b.nextTag,
		}
		q.messages <- d
	}

	b.published = append(b.published, Publication{Exchange: exchange, RoutingKey: routingKey, Message: msg})
	return nil
}

// Consume delivers messages from a queue. Several consumers of one queue
// compete: each message goes to exactly one of them.
func (b *Bus) Consume(ctx context.Context, queueName string) (<-chan broker.Delivery, error) {
	b.mu.Lock()
	q, ok := b.queues[queueName]
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no queue %q", broker.ErrBusUnavailable, queueName)
	}

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-q.messages:
				if !ok {
					return
				}
				b.track(d)
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(q, d)
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *Bus) track(d broker.Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[d.Tag] = d
}

// requeue puts back a delivery taken from the queue but never handed out.
func (b *Bus) requeue(q *queue, d broker.Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, d.Tag)
	if b.closed {
		return
	}
	d.Redelivered = true
	select {
	case q.messages <- d:
	default:
	}
}

func (b *Bus) Ack(d broker.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: bus closed", broker.ErrBusUnavailable)
	}
	if _, ok := b.pending[d.Tag]; !ok {
		return fmt.Errorf("%w: unknown delivery tag %d", broker.ErrBusUnavailable, d.Tag)
	}
	delete(b.pending, d.Tag)
	b.acked = append(b.acked, d)
	return nil
}

// Close stops every consumer. Further calls fail with ErrBusUnavailable.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.messages)
	}
	return nil
}

// FailConnect makes every following Connect fail with err wrapped in
// ErrBusUnavailable. A nil err restores normal connecting.
func (b *Bus) FailConnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

// Connects returns the number of successful Connect calls.
func (b *Bus) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// FailPublishes makes every following publish fail with err wrapped in
// ErrPublishFailure. A nil err restores normal publishing.
func (b *Bus) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Published returns every accepted publish in order.
func (b *Bus) Published() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// Acked returns every acknowledged delivery in order.
func (b *Bus) Acked() []broker.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.acked)
}

// Unacked returns the number of deliveries handed out and not yet
// acknowledged.
func (b *Bus) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Bindings returns the bindings declared on an exchange.
func (b *Bus) Bindings(exchange string) []routing.Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.exchanges[exchange])
}

// Depth returns the number of messages waiting in a queue.
func (b *Bus) Depth(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.messages)
}
