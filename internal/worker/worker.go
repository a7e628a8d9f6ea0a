// Package worker provides a generic worker that consumes messages from one or
// more queues and acknowledges them once handled.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"golang.org/x/sync/errgroup"
)

// Handlerer is an interface for handling messages.
//
// A nil error or a non-fatal error leads to the delivery being acknowledged;
// non-fatal errors are logged and the message is discarded. An error for
// which broker.IsFatal reports true stops the worker without acknowledging.
type Handlerer interface {
	HandleMessage(ctx context.Context, msg broker.Delivery) error
}

// HandlerFunc adapts a function to Handlerer.
type HandlerFunc func(ctx context.Context, msg broker.Delivery) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg broker.Delivery) error {
	return f(ctx, msg)
}

// Source is the part of the bus a worker reads from.
type Source interface {
	Consume(ctx context.Context, queueName string) (<-chan broker.Delivery, error)
	Ack(d broker.Delivery) error
}

// Worker is a generic worker that consumes messages from a set of queues.
// Each queue is read by its own goroutine, so messages of one queue are
// handled one at a time and in order.
type Worker struct {
	queueNames []string
	source     Source
	logger     *slog.Logger
}

func New(source Source, logger *slog.Logger, queueNames ...string) *Worker {
	return &Worker{
		queueNames: queueNames,
		source:     source,
		logger:     logger,
	}
}

// Run consumes until ctx is done, returning nil, or until a queue stops
// delivering or the handler reports a fatal error, returning that error.
func (w *Worker) Run(ctx context.Context, handler Handlerer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	for _, name := range w.queueNames {
		msgs, err := w.source.Consume(ctx, name)
		if err != nil {
			return err
		}

		name := name
		g.Go(func() error {
			return w.consume(ctx, name, msgs, handler)
		})
	}

	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, queueName string, msgs <-chan broker.Delivery, handler Handlerer) error {
	logger := w.logger.With("queue", queueName)
	logger.Debug("Waiting for messages.")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Shutting down consumer...")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("Channel closed, shutting down.")
				return fmt.Errorf("%w: queue %q stopped delivering", broker.ErrBusUnavailable, queueName)
			}

			if err := handler.HandleMessage(ctx, msg); err != nil {
				if broker.IsFatal(err) {
					return err
				}
				logger.Warn("Discarding message", "routing_key", msg.RoutingKey, "error", err)
			}

			if err := w.source.Ack(msg); err != nil {
				return err
			}
		}
	}
}
