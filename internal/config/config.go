// Package config holds the process-wide settings shared by agencies and
// carriers. A Config is built once at start-up and is never modified.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yyvfuruta/driva-dispatch/internal/routing"
)

const (
	DefaultHost          = "localhost"
	DefaultPort          = "5672"
	DefaultUserName      = "guest"
	DefaultUserPass      = "guest"
	DefaultExchange      = "exchange1"
	DefaultDeliveryTypes = "People,Cargo,Satellite"
	DefaultDedupeTTL     = 24 * time.Hour
)

var (
	// ErrInvalidSelection is returned when operator input is not one of the
	// configured delivery types.
	ErrInvalidSelection = errors.New("invalid delivery type selection")

	// ErrAlreadySelected is returned when a carrier picks the same delivery
	// type twice. It wraps ErrInvalidSelection.
	ErrAlreadySelected = fmt.Errorf("%w: already selected", ErrInvalidSelection)
)

// Broker holds the RabbitMQ connection settings.
type Broker struct {
	Host     string
	Port     string
	UserName string
	UserPass string
}

// Redis holds the optional Redis connection settings.
type Redis struct {
	Host string
	Port string
}

// Addr returns host:port.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type Config struct {
	Broker   Broker
	Exchange string

	// Redis is nil when redelivery suppression is disabled.
	Redis     *Redis
	DedupeTTL time.Duration

	// QueuePrefix names the shared per-type queues used by carriers running
	// with shared queues enabled.
	QueuePrefix string

	deliveryTypes []string
}

// New builds a Config for the given exchange and ordered delivery types.
func New(broker Broker, exchange string, deliveryTypes []string) (Config, error) {
	if exchange == "" {
		return Config{}, errors.New("exchange name must be provided")
	}
	if len(deliveryTypes) == 0 {
		return Config{}, errors.New("at least one delivery type must be provided")
	}

	types := make([]string, 0, len(deliveryTypes))
	for _, t := range deliveryTypes {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
			return Config{}, errors.New("delivery types can't be empty")
		case strings.ContainsAny(t, ".:*#"):
			return Config{}, fmt.Errorf("delivery type %q contains a reserved character", t)
		case len(t) > routing.MaxSegmentLength:
			return Config{}, fmt.Errorf("delivery type %q is longer than %d bytes", t, routing.MaxSegmentLength)
		case t == "exit":
			return Config{}, errors.New(`"exit" is reserved and can't be a delivery type`)
		case slices.Contains(types, t):
			return Config{}, fmt.Errorf("delivery type %q listed twice", t)
		}
		types = append(types, t)
	}

	return Config{
		Broker:        broker,
		Exchange:      exchange,
		DedupeTTL:     DefaultDedupeTTL,
		QueuePrefix:   exchange + ".delivery",
		deliveryTypes: types,
	}, nil
}

// Load builds a Config from the environment, falling back to defaults for
// anything unset.
func Load() (Config, error) {
	broker := Broker{
		Host:     getenv("RABBITMQ_HOST", DefaultHost),
		Port:     getenv("RABBITMQ_PORT", DefaultPort),
		UserName: getenv("RABBITMQ_USER_NAME", DefaultUserName),
		UserPass: getenv("RABBITMQ_USER_PASS", DefaultUserPass),
	}
	if _, err := strconv.Atoi(broker.Port); err != nil {
		return Config{}, fmt.Errorf("RABBITMQ_PORT must be a number: %w", err)
	}

	cfg, err := New(
		broker,
		getenv("DISPATCH_EXCHANGE", DefaultExchange),
		strings.Split(getenv("DISPATCH_DELIVERY_TYPES", DefaultDeliveryTypes), ","),
	)
	if err != nil {
		return Config{}, err
	}

	if ttl := os.Getenv("DISPATCH_DEDUPE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("DISPATCH_DEDUPE_TTL: %w", err)
		}
		if d <= 0 {
			return Config{}, errors.New("DISPATCH_DEDUPE_TTL must be positive")
		}
		cfg.DedupeTTL = d
	}

	if prefix := os.Getenv("CARRIER_QUEUE_PREFIX"); prefix != "" {
		cfg.QueuePrefix = prefix
	}

	redisHost := os.Getenv("REDIS_HOST")
	redisPort := os.Getenv("REDIS_PORT")
	if redisHost != "" || redisPort != "" {
		envVars := map[string]string{
			"REDIS_HOST": redisHost,
			"REDIS_PORT": redisPort,
		}
		for key, value := range envVars {
			if value == "" {
				return Config{}, fmt.Errorf("%s environment variable not set", key)
			}
		}
		cfg.Redis = &Redis{Host: redisHost, Port: redisPort}
	}

	return cfg, nil
}

// DeliveryTypes returns a copy of the configured delivery types in order.
func (c Config) DeliveryTypes() []string {
	return slices.Clone(c.deliveryTypes)
}

// IsDeliveryType reports whether s is one of the configured delivery types.
func (c Config) IsDeliveryType(s string) bool {
	return slices.Contains(c.deliveryTypes, s)
}

// ValidateSelection checks operator input against the delivery types. Inputs
// equal to one of taken are rejected with ErrAlreadySelected.
func (c Config) ValidateSelection(input string, taken ...string) error {
	if slices.Contains(taken, input) {
		return fmt.Errorf("%w: %q", ErrAlreadySelected, input)
	}
	if !c.IsDeliveryType(input) {
		return fmt.Errorf("%w: %q", ErrInvalidSelection, input)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
