package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storefront/channel"
	"storefront/config"
)

// Transport opens push-channel streams over RabbitMQ. Each stream owns an
// exclusive auto-delete queue bound to the notification exchange with
// routing key user.<id>; client emits go out as client.<event>.
type Transport struct {
	URL      string
	Exchange string
	log      *slog.Logger
}

func NewTransport(cfg *config.Config, log *slog.Logger) *Transport {
	return &Transport{URL: cfg.RabbitMQ.URL, Exchange: cfg.RabbitMQ.Exchange, log: log}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func UserRoutingKey(userID string) string { return "user." + userID }

func ClientRoutingKey(event string) string { return "client." + event }

func (t *Transport) Open(ctx context.Context, userID string) (channel.Stream, error) {
	conn, err := amqp.DialConfig(t.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "storefront-" + userID},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	fail := func(err error) (channel.Stream, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		t.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fail(err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	)
	if err != nil {
		return fail(err)
	}

	if err := ch.QueueBind(q.Name, UserRoutingKey(userID), t.Exchange, false, nil); err != nil {
		return fail(err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"storefront-"+userID, // consumer tag
		false,                // auto-ack
		true,                 // exclusive
		false,                // no-local
		false,                // no-wait
		nil,
	)
	if err != nil {
		return fail(err)
	}

	s := &stream{
		conn:     conn,
		ch:       ch,
		exchange: t.Exchange,
		events:   make(chan channel.Event, 32),
		log:      t.log.With(slog.String("user_id", userID)),
	}
	go s.run(deliveries)
	return s, nil
}

type stream struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	exchange  string
	events    chan channel.Event
	log       *slog.Logger
	closeOnce sync.Once
}

func (s *stream) Events() <-chan channel.Event { return s.events }

func (s *stream) run(deliveries <-chan amqp.Delivery) {
	defer close(s.events)
	for d := range deliveries {
		ev, err := Decode(d.Body)
		if err != nil {
			s.log.Warn("invalid push message", slog.Any("err", err))
			_ = d.Nack(false, false) // drop, no requeue
			continue
		}
		s.events <- ev
		if err := d.Ack(false); err != nil {
			s.log.Warn("ack failed", slog.Any("err", err))
		}
	}
}

func (s *stream) Emit(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Event: name, Data: data})
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx,
		s.exchange,
		ClientRoutingKey(name),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			ContentType:  "application/json",
			Body:         body,
		},
	)
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.ch.Close(), s.conn.Close())
	})
	return err
}

// Decode parses an {event, data} envelope.
func Decode(body []byte) (channel.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.Event{}, err
	}
	if env.Event == "" {
		return channel.Event{}, errors.New("envelope without event name")
	}
	return channel.Event{Name: env.Event, Data: env.Data}, nil
}

var _ channel.Transport = (*Transport)(nil)
