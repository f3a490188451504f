package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	v1 "tripdesk/shared/contracts/support/v1"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes envelopes to a durable topic exchange.
// The routing key is the envelope type (room.created, message.appended, ...),
// so consumers can bind with patterns like "room.*".
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if url == "" || exchange == "" {
		return nil, errors.New("relay: amqp url and exchange are required")
	}
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		log:      log,
	}, nil
}

// Publish sends one envelope. A fresh channel per publish keeps the
// publisher safe for concurrent use without channel-level locking.
func (p *AMQPPublisher) Publish(ctx context.Context, env v1.Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msgID := env.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, env.Type, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: uuid.NewString(),
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		p.log.Debug("relay.amqp.published", "key", env.Type, "exchange", p.exchange)
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
