package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/processor"
	"github.com/Guizzs26/go-ads-sync/pkg/infra"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one trigger body
type MessageHandler interface {
	HandleMessage(ctx context.Context, body []byte) error
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	handler    MessageHandler
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewRabbitMQConsumer connects and declares the trigger topology
func NewRabbitMQConsumer(url string, handler MessageHandler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Prefetch 1: a run already fans out internally, triggers are taken one at a time
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQConsumer{
		conn:       conn,
		channel:    ch,
		handler:    handler,
		logger:     logger,
		retryDelay: 5 * time.Second,
	}, nil
}

// Listen consumes triggers until ctx ends or the channel drops
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	msgs, err := c.channel.Consume(TriggerQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer is online and waiting for triggers", "queue", TriggerQueue)
	metrics.SetHealthy(true)
	defer metrics.SetHealthy(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	l := c.logger.With("correlation_id", d.CorrelationId, "routing_key", d.RoutingKey)

	err := c.handler.HandleMessage(ctx, d.Body)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			l.Error("Failed to Ack message", "error", err)
		}
	case errors.Is(err, processor.ErrRejected):
		l.Error("Dropping trigger that cannot succeed", "error", err)
		_ = d.Nack(false, false)
	case ctx.Err() != nil:
		l.Warn("Shutdown during run, requeueing trigger")
		_ = d.Nack(false, true)
	default:
		l.Error("Processing failed, requeueing", "error", err)
		select { // throttle redelivery
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
		_ = d.Nack(false, true)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}

// Consume keeps a consumer connected until ctx ends, redialing with backoff
func Consume(ctx context.Context, url string, handler MessageHandler, logger *slog.Logger) {
	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		if ctx.Err() != nil {
			return
		}

		consumer, err := NewRabbitMQConsumer(url, handler, logger)
		if err != nil {
			metrics.BrokerReconnections.Inc()
			logger.Error("RabbitMQ connection failed, retrying...",
				"attempt", connBackoff.Attempts()+1,
				"error", err,
			)
			if _, err := connBackoff.Wait(ctx); err != nil {
				return
			}
			continue
		}

		connBackoff.Reset()
		err = consumer.Listen(ctx)
		consumer.Close()
		if err == nil {
			continue
		}

		metrics.BrokerReconnections.Inc()
		logger.Error("Consumer connection lost", "attempt", connBackoff.Attempts()+1, "error", err)
		if _, err := connBackoff.Wait(ctx); err != nil {
			return
		}
	}
}
