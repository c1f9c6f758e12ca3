package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// RabbitMQPublisher sends completions as persistent JSON messages to a durable queue.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

func NewRabbitMQPublisher(url, queue string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare a %s queue: %w", queue, err)
	}
	logger.Info("events.rabbitmq.connected", "queue", queue)
	return &RabbitMQPublisher{conn: conn, channel: channel, queue: queue, logger: logger}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, c Completion) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Type:         "docflow.completion",
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("events.rabbitmq.publish_failed", "record_key", c.RecordKey, "error", err)
		return fmt.Errorf("failed to publish message in queue: %w", err)
	}
	p.logger.Debug("events.rabbitmq.published", "record_key", c.RecordKey, "queue", p.queue)
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// NewPublisher returns a RabbitMQ publisher when an AMQP URL is configured, else a log publisher.
func NewPublisher(cfg common.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if cfg.AMQPURL == "" {
		return NewLogPublisher(logger), nil
	}
	return NewRabbitMQPublisher(cfg.AMQPURL, cfg.Queue, logger)
}
