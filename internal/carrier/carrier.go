// Package carrier implements the order-handling side of the dispatch
// protocol. A carrier serves two distinct delivery types, confirms every
// order it receives to the agency that placed it, and acknowledges the order
// only after the confirmation has been published.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/cache"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/console"
	"github.com/yyvfuruta/driva-dispatch/internal/models"
	"github.com/yyvfuruta/driva-dispatch/internal/routing"
	"github.com/yyvfuruta/driva-dispatch/internal/worker"
)

type State int32

const (
	Idle State = iota
	AwaitingName
	AwaitingFirstType
	AwaitingSecondType
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingName:
		return "awaiting-name"
	case AwaitingFirstType:
		return "awaiting-first-type"
	case AwaitingSecondType:
		return "awaiting-second-type"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Bus is the part of the message bus a carrier uses.
type Bus interface {
	worker.Source
	Connect() error
	DeclareTopicExchange(name string) error
	DeclareExclusiveQueue() (string, error)
	DeclareSharedQueue(name string) (string, error)
	BindQueue(binding routing.Binding, exchange string) error
	Publish(ctx context.Context, exchange, routingKey string, msg broker.Message) error
}

// ProcessedStore remembers confirmed orders so that redeliveries are not
// confirmed twice.
type ProcessedStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type Options struct {
	// SharedQueues makes the carrier read from one named queue per delivery
	// type, competing with other carriers serving the same type.
	SharedQueues bool

	// Store enables redelivery suppression when non-nil.
	Store ProcessedStore
}

type Carrier struct {
	cfg     config.Config
	bus     Bus
	console *console.Console
	logger  *slog.Logger
	opts    Options

	state atomic.Int32

	// Set before consumption starts and read-only afterwards.
	name     string
	types    []string
	bindings []routing.Binding
}

func New(cfg config.Config, bus Bus, con *console.Console, logger *slog.Logger, opts Options) *Carrier {
	return &Carrier{
		cfg:     cfg,
		bus:     bus,
		console: con,
		logger:  logger,
		opts:    opts,
	}
}

// State returns the current state.
func (c *Carrier) State() State {
	return State(c.state.Load())
}

func (c *Carrier) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("Carrier state changed", "state", s)
}

// Bindings returns the two delivery bindings once running.
func (c *Carrier) Bindings() []routing.Binding {
	return slices.Clone(c.bindings)
}

// Run asks for the carrier name and two distinct delivery types, binds a
// queue per type and handles orders until ctx is done (returning nil) or the
// bus fails.
func (c *Carrier) Run(ctx context.Context) error {
	c.console.Println("Carrier running...")

	c.setState(AwaitingName)
	name, err := c.awaitName(ctx)
	if err != nil {
		return err
	}
	c.name = name

	c.console.Printf("Here's a list of the types of deliveries we offer: %v. You have to pick two of them.", c.cfg.DeliveryTypes())

	c.setState(AwaitingFirstType)
	c.console.Println("Pick the first one:")
	first, err := c.selectType(ctx)
	if err != nil {
		return err
	}

	c.setState(AwaitingSecondType)
	c.console.Println("Pick the second one:")
	second, err := c.selectType(ctx, first)
	if err != nil {
		return err
	}
	c.types = []string{first, second}

	queues, err := c.start()
	if err != nil {
		return err
	}

	c.setState(Running)
	c.console.Println("Waiting for orders...")

	return worker.New(c.bus, c.logger, queues...).Run(ctx, c)
}

var invalidNamePrompt = fmt.Sprintf("Names can't contain ':', '.', '*' or '#', or be longer than %d bytes. Pick another name:", routing.MaxSegmentLength)

func (c *Carrier) awaitName(ctx context.Context) (string, error) {
	name, err := c.console.Prompt(ctx, "Pick a name for this carrier:")
	for err == nil && !models.ValidName(name) {
		name, err = c.console.Prompt(ctx, invalidNamePrompt)
	}
	if err != nil {
		return "", fmt.Errorf("read carrier name: %w", err)
	}
	if name == "" {
		c.logger.Warn("Carrier name is blank")
	}
	return name, nil
}

// selectType reads lines until one names a configured delivery type that is
// not in taken.
func (c *Carrier) selectType(ctx context.Context, taken ...string) (string, error) {
	for {
		input, err := c.console.ReadLine(ctx)
		if err != nil {
			return "", fmt.Errorf("read delivery type: %w", err)
		}

		err = c.cfg.ValidateSelection(input, taken...)
		switch {
		case err == nil:
			return input, nil
		case errors.Is(err, config.ErrAlreadySelected):
			c.console.Println("You already picked this delivery type. Try again.")
		default:
			c.console.Println("Non-existing delivery type picked. Try again.")
		}
	}
}

func (c *Carrier) start() ([]string, error) {
	if err := c.bus.Connect(); err != nil {
		return nil, err
	}
	if err := c.bus.DeclareTopicExchange(c.cfg.Exchange); err != nil {
		return nil, err
	}

	queues := make([]string, 0, len(c.types))
	for i, t := range c.types {
		q, err := c.declareQueue(t)
		if err != nil {
			return nil, err
		}

		binding := routing.Binding{Queue: q, Pattern: routing.DeliveryPattern(t)}
		if err := c.bus.BindQueue(binding, c.cfg.Exchange); err != nil {
			return nil, err
		}

		c.bindings = append(c.bindings, binding)
		queues = append(queues, q)
		c.console.Printf("Created a queue for delivery type %d (%s): %s", i+1, t, q)
	}

	return queues, nil
}

func (c *Carrier) declareQueue(deliveryType string) (string, error) {
	if c.opts.SharedQueues {
		return c.bus.DeclareSharedQueue(c.cfg.QueuePrefix + "." + deliveryType)
	}
	return c.bus.DeclareExclusiveQueue()
}

// HandleMessage confirms one order. Malformed orders and orders for a type
// this carrier does not serve are reported as non-fatal errors so that they
// are acknowledged and dropped. Publish failures are fatal.
func (c *Carrier) HandleMessage(ctx context.Context, msg broker.Delivery) error {
	order, err := models.ParseOrder(string(msg.Body))
	if err != nil {
		return err
	}

	if !slices.Contains(c.types, order.DeliveryType) {
		return fmt.Errorf("order %d from %q is for unserved delivery type %q", order.Seq, order.AgencyName, order.DeliveryType)
	}

	processedKey := ""
	if c.opts.Store != nil && msg.MessageID != "" {
		processedKey = cache.ProcessedKey(c.name, msg.MessageID)
		if c.alreadyConfirmed(ctx, processedKey) {
			c.logger.Info("Order already confirmed, skipping",
				"order", order.Seq,
				"agency", order.AgencyName,
				"message_id", msg.MessageID,
			)
			return nil
		}
	}

	c.console.Printf("Received an order number %d from %s for %s.", order.Seq, order.AgencyName, order.DeliveryType)

	key := routing.ConfirmationKey(c.name, order.AgencyName)
	confirmation := broker.Message{
		Body:          []byte(models.ConfirmationText(order.Seq)),
		CorrelationID: msg.MessageID,
	}
	if err := c.bus.Publish(ctx, c.cfg.Exchange, key, confirmation); err != nil {
		return fmt.Errorf("confirm order %d: %w", order.Seq, err)
	}
	c.logger.Info("Order confirmed", "order", order.Seq, "routing_key", key, "redelivered", msg.Redelivered)

	if processedKey != "" {
		if err := c.opts.Store.Remember(ctx, processedKey); err != nil {
			c.logger.Warn("Failed to remember confirmed order", "key", processedKey, "error", err)
		}
	}

	return nil
}

func (c *Carrier) alreadyConfirmed(ctx context.Context, key string) bool {
	seen, err := c.opts.Store.Seen(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to look up confirmed order", "key", key, "error", err)
		return false
	}
	return seen
}
