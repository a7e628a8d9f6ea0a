// Package routing builds and parses the three-part topic routing keys used on
// the dispatch exchange: <party>.<kind>.<selector>.
package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the two message classes sharing one exchange.
type Kind string

const (
	KindDelivery     Kind = "delivery"
	KindConfirmation Kind = "confirmation"
)

const (
	separator = "."
	wildcard  = "*"
	multiWild = "#"
)

// MaxKeyLength is the broker's limit on a routing key, in bytes.
const MaxKeyLength = 255

// MaxSegmentLength caps a party name or delivery type so that any key built
// from two of them fits in MaxKeyLength.
const MaxSegmentLength = (MaxKeyLength - len(separator+string(KindConfirmation)+separator)) / 2

var ErrInvalidKey = errors.New("invalid routing key")

// Key is a parsed routing key.
type Key struct {
	Party    string
	Kind     Kind
	Selector string
}

func (k Key) String() string {
	return k.Party + separator + string(k.Kind) + separator + k.Selector
}

// Binding is a queue bound to the exchange under a pattern. It is owned by
// the process that declared the queue.
type Binding struct {
	Queue   string
	Pattern string
}

// DeliveryKey is the key an agency publishes an order under.
func DeliveryKey(agencyName, deliveryType string) string {
	return Key{Party: agencyName, Kind: KindDelivery, Selector: deliveryType}.String()
}

// ConfirmationKey is the key a carrier publishes a confirmation under.
func ConfirmationKey(carrierName, agencyName string) string {
	return Key{Party: carrierName, Kind: KindConfirmation, Selector: agencyName}.String()
}

// DeliveryPattern matches orders of one delivery type from any agency.
func DeliveryPattern(deliveryType string) string {
	return Key{Party: wildcard, Kind: KindDelivery, Selector: deliveryType}.String()
}

// ConfirmationPattern matches confirmations addressed to one agency from any
// carrier.
func ConfirmationPattern(agencyName string) string {
	return Key{Party: wildcard, Kind: KindConfirmation, Selector: agencyName}.String()
}

// ParseKey splits a routing key into its parts.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, separator)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q has %d segments", ErrInvalidKey, key, len(parts))
	}

	kind := Kind(parts[1])
	if kind != KindDelivery && kind != KindConfirmation {
		return Key{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, parts[1])
	}

	return Key{Party: parts[0], Kind: kind, Selector: parts[2]}, nil
}

// Match reports whether a routing key matches a topic pattern. "*" matches
// exactly one word and "#" matches zero or more words.
func Match(pattern, key string) bool {
	return match(strings.Split(pattern, separator), strings.Split(key, separator))
}

func match(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case multiWild:
			rest := pattern[1:]
			for i := 0; i <= len(key); i++ {
				if match(rest, key[i:]) {
					return true
				}
			}
			return false
		case wildcard:
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
