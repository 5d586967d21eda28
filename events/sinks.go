package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"go-hotspot/log"
)

// LogSink writes every event to the logger.
type LogSink struct {
	Logger *log.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Logger.Infow("event", "kind", e.Kind, "action", e.Action, "tenant", e.TenantID,
		"subject", e.Subject, "subject_id", e.SubjectID)
	return nil
}

// AMQPSink publishes events as persistent JSON messages on a durable topic
// exchange, routed by event kind.
type AMQPSink struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	s := &AMQPSink{url: url, exchange: exchange}
	if err := s.connect(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return errors.Annotate(err, "rabbitmq: dial failed")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Annotate(err, "rabbitmq: channel open failed")
	}
	if err := ch.ExchangeDeclare(
		s.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Annotate(err, "rabbitmq: exchange declare failed")
	}
	s.conn, s.ch = conn, ch
	return nil
}

func (s *AMQPSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Trace(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil || s.ch.IsClosed() {
		s.close()
		if err := s.connect(); err != nil {
			return errors.Trace(err)
		}
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Kind),
		Body:         body,
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, string(e.Kind), false, false, pub)
	return errors.Annotate(err, "rabbitmq: publish failed")
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
	return nil
}

func (s *AMQPSink) close() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
