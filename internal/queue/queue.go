// Package queue dials the RabbitMQ broker.
package queue

import (
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
)

// URL builds the AMQP URL for the configured broker.
func URL(cfg config.Broker) (string, error) {
	envVars := map[string]string{
		"RABBITMQ_HOST":      cfg.Host,
		"RABBITMQ_PORT":      cfg.Port,
		"RABBITMQ_USER_NAME": cfg.UserName,
		"RABBITMQ_USER_PASS": cfg.UserPass,
	}

	for key, value := range envVars {
		if value == "" {
			return "", fmt.Errorf("%s environment variable not set", key)
		}
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return "", fmt.Errorf("invalid RABBITMQ_PORT %q: %w", cfg.Port, err)
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     port,
		Username: cfg.UserName,
		Password: cfg.UserPass,
		Vhost:    "/",
	}
	return uri.String(), nil
}

func NewConnection(cfg config.Broker) (*amqp.Connection, error) {
	url, err := URL(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
