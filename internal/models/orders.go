package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yyvfuruta/driva-dispatch/internal/routing"
	"github.com/yyvfuruta/driva-dispatch/internal/validator"
)

// Order is a delivery request published by an agency.
type Order struct {
	Seq          int
	AgencyName   string
	DeliveryType string
}

// String returns the wire form "<seq>:<agency>:<deliveryType>".
func (o Order) String() string {
	return strconv.Itoa(o.Seq) + fieldSeparator + o.AgencyName + fieldSeparator + o.DeliveryType
}

// Body returns the wire form as bytes.
func (o Order) Body() []byte {
	return []byte(o.String())
}

// ParseOrder decodes the wire form of an order. Payloads with fewer than
// three fields, or a sequence that is not a positive number, are rejected with
// ErrMalformedOrder. Anything after the third separator is kept in the
// delivery type.
func ParseOrder(payload string) (Order, error) {
	fields := strings.SplitN(payload, fieldSeparator, 3)
	if len(fields) < 3 {
		return Order{}, fmt.Errorf("%w: expected 3 fields, got %d in %q", ErrMalformedOrder, len(fields), payload)
	}

	seq, err := strconv.Atoi(fields[0])
	if err != nil {
		return Order{}, fmt.Errorf("%w: sequence %q is not a number", ErrMalformedOrder, fields[0])
	}
	if seq <= 0 {
		return Order{}, fmt.Errorf("%w: sequence %d is not positive", ErrMalformedOrder, seq)
	}

	return Order{
		Seq:          seq,
		AgencyName:   fields[1],
		DeliveryType: fields[2],
	}, nil
}

// ValidateOrder checks that an order can be represented on the wire and
// routed. Empty agency names are allowed.
func ValidateOrder(v *validator.Validator, order Order) {
	v.Check(order.Seq > 0, "seq", "must be positive")
	v.Check(!strings.ContainsAny(order.AgencyName, fieldSeparator+"."), "agency_name", "must not contain ':' or '.'")
	v.Check(order.DeliveryType != "", "delivery_type", "must be provided")
	v.Check(!strings.ContainsAny(order.DeliveryType, fieldSeparator+"."), "delivery_type", "must not contain ':' or '.'")
}

// ValidName reports whether a party name can be used as a routing key
// segment and an order field.
func ValidName(name string) bool {
	return len(name) <= routing.MaxSegmentLength && !strings.ContainsAny(name, fieldSeparator+".*#")
}
