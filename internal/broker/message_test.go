package broker

import (
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrBusUnavailable))
	assert.True(t, IsFatal(ErrPublishFailure))
	assert.True(t, IsFatal(fmt.Errorf("publish order: %w", ErrPublishFailure)))
	assert.True(t, IsFatal(fmt.Errorf("%w: %w", ErrBusUnavailable, amqp.ErrClosed)))
	assert.False(t, IsFatal(errors.New("malformed")))
	assert.False(t, IsFatal(nil))
}

func TestFromAMQP(t *testing.T) {
	d := fromAMQP("q1", amqp.Delivery{
		RoutingKey:    "A1.delivery.Cargo",
		Body:          []byte("1:A1:Cargo"),
		MessageId:     "m-1",
		CorrelationId: "c-1",
		Redelivered:   true,
		DeliveryTag:   9,
	})

	assert.Equal(t, Delivery{
		Queue:         "q1",
		RoutingKey:    "A1.delivery.Cargo",
		Body:          []byte("1:A1:Cargo"),
		MessageID:     "m-1",
		CorrelationID: "c-1",
		Redelivered:   true,
		Tag:           9,
	}, d)
}
