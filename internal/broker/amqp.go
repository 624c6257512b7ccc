package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/common"
)

// AMQPBroker fans envelopes out through a RabbitMQ fanout exchange. Each
// instance consumes from its own exclusive queue, so every instance sees every
// envelope and delivers it to the followers it holds.
type AMQPBroker struct {
	exchange string
	logger   arbor.ILogger

	conn      *amqp.Connection
	publishMu sync.Mutex
	publishCh *amqp.Channel
	consumeCh *amqp.Channel
	done      chan struct{}

	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewAMQPBroker dials url, declares exchange and starts consuming
func NewAMQPBroker(url, exchange string, logger arbor.ILogger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	b := &AMQPBroker{
		exchange: exchange,
		logger:   logger,
		conn:     conn,
		done:     make(chan struct{}),
	}

	deliveries, err := b.setup()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	common.SafeGo(logger, "amqpConsumer", func() {
		b.consume(deliveries)
	})

	logger.Info().Str("exchange", exchange).Msg("AMQP broker connected")
	return b, nil
}

func (b *AMQPBroker) setup() (<-chan amqp.Delivery, error) {
	publishCh, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	b.publishCh = publishCh

	err = publishCh.ExchangeDeclare(
		b.exchange,
		"fanout", // type
		false,    // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err)
	}

	consumeCh, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}
	b.consumeCh = consumeCh

	q, err := consumeCh.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := consumeCh.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	deliveries, err := consumeCh.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // autoAck
		true,   // exclusive
		false,  // noLocal
		false,  // noWait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue %s: %w", q.Name, err)
	}
	return deliveries, nil
}

func (b *AMQPBroker) consume(deliveries <-chan amqp.Delivery) {
	defer close(b.done)
	for d := range deliveries {
		var envelope Envelope
		if err := json.Unmarshal(d.Body, &envelope); err != nil {
			b.logger.Warn().Err(err).Msg("Dropping malformed broker message")
			continue
		}

		b.mu.RLock()
		handlers := make([]Handler, len(b.handlers))
		copy(handlers, b.handlers)
		b.mu.RUnlock()

		for _, handler := range handlers {
			handler(context.Background(), envelope)
		}
	}
	b.logger.Debug().Msg("AMQP delivery channel closed")
}

// Publish sends envelope to the exchange
func (b *AMQPBroker) Publish(ctx context.Context, envelope Envelope) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	err = b.publishCh.PublishWithContext(ctx,
		b.exchange,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.exchange, err)
	}
	return nil
}

// Subscribe registers handler for envelopes consumed after the call
func (b *AMQPBroker) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Close closes the channels and the connection and waits for the consumer
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if err := b.consumeCh.Close(); err != nil {
		errs = append(errs, err)
	}
	b.publishMu.Lock()
	if err := b.publishCh.Close(); err != nil {
		errs = append(errs, err)
	}
	b.publishMu.Unlock()
	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	<-b.done
	return errors.Join(errs...)
}
