package broker

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrBusUnavailable is returned when the connection or channel can't be
	// established or has been lost. It is fatal for the process run.
	ErrBusUnavailable = errors.New("message bus unavailable")

	// ErrPublishFailure is returned when the broker does not accept a
	// publish. It is treated the same as ErrBusUnavailable.
	ErrPublishFailure = errors.New("publish failed")
)

// IsFatal reports whether err ends the current process run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBusUnavailable) || errors.Is(err, ErrPublishFailure)
}

// Message is an outgoing publish.
type Message struct {
	Body          []byte
	MessageID     string
	CorrelationID string
}

// Delivery is a message handed to a consumer. It must be acknowledged
// through the bus it came from.
type Delivery struct {
	Queue         string
	RoutingKey    string
	Body          []byte
	MessageID     string
	CorrelationID string
	Redelivered   bool
	Tag           uint64
}

func fromAMQP(queue string, d amqp.Delivery) Delivery {
	return Delivery{
		Queue:         queue,
		RoutingKey:    d.RoutingKey,
		Body:          d.Body,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Redelivered:   d.Redelivered,
		Tag:           d.DeliveryTag,
	}
}
