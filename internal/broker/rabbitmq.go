package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange carries sync triggers and run summaries
	Exchange = "ads.sync"
	// TriggerQueue is consumed by the syncer daemon
	TriggerQueue   = "ads.sync.requests"
	triggerBinding = "sync.requested.#"

	confirmTimeout = 10 * time.Second
)

// TriggerRoutingKey is the routing key of a sync trigger for mode
func TriggerRoutingKey(mode models.Mode) string {
	return "sync.requested." + string(mode)
}

// SummaryRoutingKey is the routing key of a finished run summary for mode
func SummaryRoutingKey(mode models.Mode) string {
	return "sync.completed." + string(mode)
}

// RabbitMQClient publishes to the sync exchange with publisher confirms
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient initializes a connection and a channel, enabling Publisher Confirms by default
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		c.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			l.Warn("RabbitMQ publisher connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			l.Warn("RabbitMQ publisher channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Publisher connected to RabbitMQ", "exchange", Exchange)
	return client, nil
}

// declareTopology creates the exchange and the trigger queue. Both sides call
// it so either can start first.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare topic exchange: %w", err)
	}
	q, err := ch.QueueDeclare(TriggerQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare trigger queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, triggerBinding, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind trigger queue: %w", err)
	}
	return nil
}

// PublishTrigger enqueues a sync request for the daemon
func (r *RabbitMQClient) PublishTrigger(ctx context.Context, req models.SyncRequest) error {
	return r.publish(ctx, TriggerRoutingKey(req.Mode), req.CorrelationID, req)
}

// PublishSummary announces a finished run
func (r *RabbitMQClient) PublishSummary(ctx context.Context, summary models.SyncSummary) error {
	return r.publish(ctx, SummaryRoutingKey(summary.Mode), summary.CorrelationID, summary)
}

// publish sends payload and blocks until a confirmation (ACK/NACK) is received
func (r *RabbitMQClient) publish(ctx context.Context, routingKey, correlationID string, payload any) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	l := r.logger.With(
		"correlation_id", correlationID,
		"routing_key", routingKey,
	)

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			Headers: amqp.Table{
				"correlation_id": correlationID,
			},
			CorrelationId: correlationID,
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	)
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		l.Debug("Message confirmed by broker")
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ publisher")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

// ReconnectingPublisher keeps a publisher alive across broker restarts. A
// dead link is redialed lazily on the next publish.
type ReconnectingPublisher struct {
	url    string
	logger *slog.Logger
	mu     sync.Mutex
	client *RabbitMQClient
}

func NewReconnectingPublisher(url string, logger *slog.Logger) *ReconnectingPublisher {
	return &ReconnectingPublisher{url: url, logger: logger}
}

func (p *ReconnectingPublisher) current() (*RabbitMQClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsHealthy() {
		return p.client, nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
		metrics.BrokerReconnections.Inc()
	}
	c, err := NewRabbitMQClient(p.url, p.logger)
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

func (p *ReconnectingPublisher) PublishSummary(ctx context.Context, summary models.SyncSummary) error {
	c, err := p.current()
	if err != nil {
		return err
	}
	return c.PublishSummary(ctx, summary)
}

func (p *ReconnectingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
