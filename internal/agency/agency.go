// Package agency implements the order-placing side of the dispatch protocol.
//
// An agency publishes one order per operator selection under
// <agency>.delivery.<type> and, in the background, prints every confirmation
// published under *.confirmation.<agency>.
package agency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/console"
	"github.com/yyvfuruta/driva-dispatch/internal/models"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
	"github.com/yyvfuruta/driva-dispatch/internal/validator"
	"github.com/yyvfuruta/driva-dispatch/internal/worker"
)

// ExitCommand ends the interactive loop.
const ExitCommand = "exit"

type State int32

const (
	Idle State = iota
	AwaitingName
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingName:
		return "awaiting-name"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Bus is the part of the message bus an agency uses.
type Bus interface {
	worker.Source
	Connect() error
	DeclareTopicExchange(name string) error
	DeclareExclusiveQueue() (string, error)
	BindQueue(binding routing.Binding, exchange string) error
	Publish(ctx context.Context, exchange, routingKey string, msg broker.Message) error
}

type Agency struct {
	cfg     config.Config
	bus     Bus
	console *console.Console
	logger  *slog.Logger

	state atomic.Int32

	// Set before the listener starts and read-only afterwards.
	name    string
	binding routing.Binding

	// Only touched by the interactive loop.
	seq int

	listenerDone chan struct{}
	listenerErr  error
}

func New(cfg config.Config, bus Bus, con *console.Console, logger *slog.Logger) *Agency {
	return &Agency{
		cfg:          cfg,
		bus:          bus,
		console:      con,
		logger:       logger,
		listenerDone: make(chan struct{}),
	}
}

// State returns the current state.
func (a *Agency) State() State {
	return State(a.state.Load())
}

func (a *Agency) setState(s State) {
	a.state.Store(int32(s))
	a.logger.Debug("Agency state changed", "state", s)
}

// Name returns the operator-chosen name once past AwaitingName.
func (a *Agency) Name() string {
	return a.name
}

// Binding returns the confirmation binding once running.
func (a *Agency) Binding() routing.Binding {
	return a.binding
}

// Run asks for the agency name, sets up the confirmation listener and then
// takes orders until the operator types "exit" or input ends. The listener
// keeps running after Run returns nil; use Wait to block on it.
//
// Run returns an error when the bus fails, either while publishing or in the
// listener.
func (a *Agency) Run(ctx context.Context) error {
	a.console.Println("Agency running...")

	a.setState(AwaitingName)
	name, err := a.awaitName(ctx)
	if err != nil {
		return err
	}
	a.name = name

	if err := a.start(ctx); err != nil {
		return err
	}
	a.setState(Running)

	loopCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-a.listenerDone:
			cancel(a.listenerErr)
		case <-loopCtx.Done():
		}
	}()

	err = a.takeOrders(loopCtx)
	switch {
	case err == nil, errors.Is(err, io.EOF):
	case ctx.Err() != nil:
		// Shut down from outside.
	default:
		return err
	}

	a.setState(Terminated)
	return nil
}

// Wait blocks until the confirmation listener stops or ctx is done. It
// returns the listener's error, which is nil only if it was stopped through
// the context given to Run.
func (a *Agency) Wait(ctx context.Context) error {
	select {
	case <-a.listenerDone:
		return a.listenerErr
	case <-ctx.Done():
		return nil
	}
}

var invalidNamePrompt = fmt.Sprintf("Names can't contain ':', '.', '*' or '#', or be longer than %d bytes. Pick another name:", routing.MaxSegmentLength)

func (a *Agency) awaitName(ctx context.Context) (string, error) {
	name, err := a.console.Prompt(ctx, "Pick a name for this agency:")
	for err == nil && !models.ValidName(name) {
		name, err = a.console.Prompt(ctx, invalidNamePrompt)
	}
	if err != nil {
		return "", fmt.Errorf("read agency name: %w", err)
	}
	if name == "" {
		a.logger.Warn("Agency name is blank")
	}
	return name, nil
}

func (a *Agency) start(ctx context.Context) error {
	if err := a.bus.Connect(); err != nil {
		return err
	}
	if err := a.bus.DeclareTopicExchange(a.cfg.Exchange); err != nil {
		return err
	}

	q, err := a.bus.DeclareExclusiveQueue()
	if err != nil {
		return err
	}

	binding := routing.Binding{Queue: q, Pattern: routing.ConfirmationPattern(a.name)}
	if err := a.bus.BindQueue(binding, a.cfg.Exchange); err != nil {
		return err
	}
	a.binding = binding
	a.console.Printf("Created a queue for orders' confirmations: %s", q)

	listener := worker.New(a.bus, a.logger, q)
	go func() {
		a.listenerErr = listener.Run(ctx, worker.HandlerFunc(a.handleConfirmation))
		if a.listenerErr != nil {
			a.logger.Error("Confirmation listener stopped", "error", a.listenerErr)
		}
		close(a.listenerDone)
	}()

	return nil
}

func (a *Agency) takeOrders(ctx context.Context) error {
	a.console.Printf("Here's a list of the types of deliveries we offer: %v", a.cfg.DeliveryTypes())

	for {
		input, err := a.console.Prompt(ctx, "Pick a delivery to order it:")
		if err != nil {
			return err
		}

		if input == ExitCommand {
			return nil
		}

		if err := a.cfg.ValidateSelection(input); err != nil {
			a.console.Println("Non-existing delivery type picked. Try again.")
			continue
		}

		order, err := a.placeOrder(ctx, input)
		if err != nil {
			return err
		}
		a.console.Printf("You ordered: %s (order %d)", order.DeliveryType, order.Seq)
	}
}

// placeOrder publishes the next order. The sequence only advances once the
// broker accepted the publish.
func (a *Agency) placeOrder(ctx context.Context, deliveryType string) (models.Order, error) {
	order := models.Order{
		Seq:          a.seq + 1,
		AgencyName:   a.name,
		DeliveryType: deliveryType,
	}

	v := validator.New()
	models.ValidateOrder(v, order)
	if err := v.Err(); err != nil {
		return models.Order{}, err
	}

	msg := broker.Message{
		Body:      order.Body(),
		MessageID: uuid.NewString(),
	}
	key := routing.DeliveryKey(a.name, deliveryType)
	if err := a.bus.Publish(ctx, a.cfg.Exchange, key, msg); err != nil {
		return models.Order{}, fmt.Errorf("publish order %d: %w", order.Seq, err)
	}
	a.seq = order.Seq

	a.logger.Info("Order published", "order", order.Seq, "routing_key", key, "message_id", msg.MessageID)
	return order, nil
}

func (a *Agency) handleConfirmation(_ context.Context, msg broker.Delivery) error {
	var carrier string
	if key, err := routing.ParseKey(msg.RoutingKey); err == nil {
		carrier = key.Party
	}

	c, err := models.ParseConfirmation(carrier, string(msg.Body))
	if err != nil {
		a.logger.Warn("Unrecognised confirmation", "routing_key", msg.RoutingKey, "error", err)
	}

	a.console.Println(c.Status)
	a.logger.Info("Confirmation received",
		"carrier", c.CarrierName,
		"order", c.Seq,
		"correlation_id", msg.CorrelationID,
	)
	return nil
}
