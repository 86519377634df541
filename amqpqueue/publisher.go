// Package amqpqueue enqueues gaspar job references on RabbitMQ.
//
// Each won occurrence of a Ref job becomes one persistent JSON message on
// the configured queue; a worker pool consumes and runs it. Delivery is at
// least once from the broker's side: gaspar decides that an occurrence is
// enqueued once, not that it is processed once.
package amqpqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	gotick "github.com/go-tick/core"
	"github.com/go-tick/gaspar"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var _ gaspar.Enqueuer = (*Publisher)(nil)

// Message is the body published for one occurrence.
type Message struct {
	ID         string    `json:"id"`
	Ref        string    `json:"ref"`
	Args       []any     `json:"args"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch       Channel
	exchange string
	queue    string
	now      func() time.Time
	log      zerolog.Logger
}

func WithExchange(exchange string) gotick.Option[Publisher] {
	return func(p *Publisher) {
		p.exchange = exchange
	}
}

func WithLogger(logger zerolog.Logger) gotick.Option[Publisher] {
	return func(p *Publisher) {
		p.log = logger
	}
}

func WithClock(now func() time.Time) gotick.Option[Publisher] {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher publishes to queue through the default exchange unless
// WithExchange names another one, in which case queue is the routing key.
func NewPublisher(ch Channel, queue string, options ...gotick.Option[Publisher]) *Publisher {
	p := &Publisher{
		ch:    ch,
		queue: queue,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Publisher) Enqueue(ctx context.Context, ref string, args ...any) error {
	if args == nil {
		args = []any{}
	}

	msg := Message{
		ID:         uuid.NewString(),
		Ref:        ref,
		Args:       args,
		EnqueuedAt: p.now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "amqp: marshal %q", ref)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.EnqueuedAt,
		Type:         ref,
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "amqp: publish %q to %s/%s", ref, p.exchange, p.queue)
	}

	p.log.Debug().Str("ref", ref).Str("message_id", msg.ID).Str("queue", p.queue).Msg("enqueued")
	return nil
}

// Conn owns the broker connection and channel behind a Publisher.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url, opens a channel and declares queue as durable.
func Dial(url, queue string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp: dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "amqp: open channel"), conn.Close())
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.CombineErrors(errors.Wrapf(err, "amqp: declare queue %q", queue), conn.Close())
	}

	return &Conn{conn: conn, ch: ch}, nil
}

func (c *Conn) Channel() Channel {
	return c.ch
}

func (c *Conn) Close() error {
	return errors.CombineErrors(c.ch.Close(), c.conn.Close())
}
