package queue

import (
	"context"
	"fmt"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// declareTopology sets up the intent exchange, the quorum intent queue and
// its dead-letter pair. Quorum queues count redeliveries in
// x-delivery-count, which is what Attempt reads.
func declareTopology(ch *amqp.Channel, cfg config.AMQPQueueConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, cfg.RoutingKey, cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    cfg.DeadLetterExchange,
		"x-dead-letter-routing-key": cfg.RoutingKey,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", cfg.RoutingKey, err)
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewAMQPPublisher(cfg config.AMQPQueueConfig) (*AMQPPublisher, error) {
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: cfg.RoutingKey}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg models.IntentMessage) error {
	body, err := encodeIntent(msg)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// AMQPSource consumes the intent queue with a prefetch of one so a worker
// never holds more than a single unacknowledged message.
type AMQPSource struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
	cancel     context.CancelFunc
	logger     *zerolog.Logger
}

func NewAMQPSource(cfg config.AMQPQueueConfig, logger *zerolog.Logger) (*AMQPSource, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*AMQPSource, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, cfg); err != nil {
		return fail(err)
	}
	if err := ch.Qos(models.WorkerPrefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := ch.ConsumeWithContext(ctx, cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("consume %s: %w", cfg.Queue, err))
	}

	logger.Info().Str("queue", cfg.Queue).Msg("AMQP consumer started")
	return &AMQPSource{
		conn:       conn,
		ch:         ch,
		queue:      cfg.Queue,
		deliveries: deliveries,
		cancel:     cancel,
		logger:     logger,
	}, nil
}

func (s *AMQPSource) Next(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return &amqpDelivery{d: d}, nil
	}
}

func (s *AMQPSource) Close() error {
	s.cancel()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte {
	return a.d.Body
}

func (a *amqpDelivery) Attempt() int {
	return attemptFromHeaders(a.d.Headers, a.d.Redelivered)
}

func (a *amqpDelivery) Ack(_ context.Context) error {
	return a.d.Ack(false)
}

// Retry holds the message for delay and then nacks it with requeue.
func (a *amqpDelivery) Retry(ctx context.Context, delay time.Duration, _ error) error {
	if err := sleepCtx(ctx, delay); err != nil {
		// Hand the message back right away; the broker redelivers it.
		_ = a.d.Nack(false, true)
		return err
	}
	return a.d.Nack(false, true)
}

// DeadLetter rejects without requeue, which routes the message to the
// dead-letter exchange.
func (a *amqpDelivery) DeadLetter(_ context.Context, _ error) error {
	return a.d.Nack(false, false)
}

func attemptFromHeaders(headers amqp.Table, redelivered bool) int {
	if v, ok := headers["x-delivery-count"]; ok {
		if n, ok := toInt(v); ok {
			return n + 1
		}
	}
	if deaths, ok := headers["x-death"].([]interface{}); ok {
		total := 0
		for _, entry := range deaths {
			if table, ok := entry.(amqp.Table); ok {
				if n, ok := toInt(table["count"]); ok {
					total += n
				}
			}
		}
		if total > 0 {
			return total + 1
		}
	}
	if redelivered {
		return 2
	}
	return 1
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}
