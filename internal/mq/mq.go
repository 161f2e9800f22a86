package mq

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/libraryd/apiserver/config"
)

// Message is a broker-agnostic delivery.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes one delivery. A returned error asks the broker to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by every supported broker.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// NewBackend connects to the broker selected by cfg.Backend. It returns
// nil, nil when no broker is configured.
func NewBackend(ctx context.Context, cfg config.MQConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
}
