package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"libranexus/internal/eventstore"
)

// RabbitMQPublisher sends journal entries to a durable queue as persistent
// JSON messages.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
}

// NewRabbitMQPublisher connects to url, retrying while the broker starts up,
// and declares queue.
func NewRabbitMQPublisher(ctx context.Context, url, queue string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("rabbitmq not reachable yet", zap.Error(err))
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(2*time.Second)),
		backoff.WithMaxTries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &RabbitMQPublisher{
		conn:    conn,
		channel: ch,
		queue:   queue,
		logger:  logger,
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, e eventstore.Event) error {
	msg, err := NewMessage(e)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	p.logger.Debug("published event",
		zap.String("queue", p.queue),
		zap.String("message_id", msg.MessageId),
		zap.String("event_type", e.EventType),
	)
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NewMessage builds the broker message for a journal entry. The message id is
// the journal id so consumers can drop redeliveries.
func NewMessage(e eventstore.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event %d: %w", e.ID, err)
	}
	return amqp.Publishing{
		MessageId:    strconv.FormatInt(e.ID, 10),
		Type:         e.EventType,
		Timestamp:    e.CreatedAt,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"aggregate_id":      e.AggregateID.String(),
			"aggregate_type":    e.AggregateType,
			"aggregate_version": int32(e.Version),
		},
		Body: body,
	}, nil
}

// LogPublisher writes entries to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e eventstore.Event) error {
	p.logger.Info("event",
		zap.Int64("id", e.ID),
		zap.String("event_type", e.EventType),
		zap.String("aggregate_type", e.AggregateType),
		zap.Stringer("aggregate_id", e.AggregateID),
		zap.ByteString("data", e.EventData),
	)
	return nil
}
