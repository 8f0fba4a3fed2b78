package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// envelope wraps the intent on the redis lists so the attempt count travels
// with the message.
type envelope struct {
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error,omitempty"`
	FailedAt *time.Time      `json:"failed_at,omitempty"`
}

// RedisQueue is a reliable list queue: BLMOVE parks each message on a
// processing list until it is acknowledged.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string
	processingKey string
	deadLetterKey string
	blockTimeout  time.Duration
	logger        *zerolog.Logger
}

func NewRedisQueue(client *redis.Client, cfg config.RedisQueueConfig, logger *zerolog.Logger) *RedisQueue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = "booking:intents"
	}
	if cfg.ProcessingKey == "" {
		cfg.ProcessingKey = cfg.QueueKey + ":processing"
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = cfg.QueueKey + ":deadletter"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = time.Second
	}
	return &RedisQueue{
		client:        client,
		queueKey:      cfg.QueueKey,
		processingKey: cfg.ProcessingKey,
		deadLetterKey: cfg.DeadLetterKey,
		blockTimeout:  cfg.BlockTimeout,
		logger:        logger,
	}
}

func (q *RedisQueue) Publish(ctx context.Context, msg models.IntentMessage) error {
	body, err := encodeIntent(msg)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{Attempt: 1, Payload: body})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return q.client.LPush(ctx, q.queueKey, raw).Err()
}

func (q *RedisQueue) Next(ctx context.Context) (Delivery, error) {
	for {
		raw, err := q.client.BLMove(ctx, q.queueKey, q.processingKey, "RIGHT", "LEFT", q.blockTimeout).Result()
		if err == nil {
			return q.newDelivery(raw), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		q.logger.Warn().Err(err).Msg("Redis BLMOVE failed")
		if err := sleepCtx(ctx, q.blockTimeout); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) newDelivery(raw string) *redisDelivery {
	d := &redisDelivery{queue: q, raw: raw}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Payload) == 0 {
		// Foreign message; hand it over as is so the consumer can reject it.
		d.env = envelope{Attempt: 1, Payload: json.RawMessage(raw)}
		return d
	}
	if env.Attempt < 1 {
		env.Attempt = 1
	}
	d.env = env
	return d
}

// Recover moves everything left on the processing list back onto the queue.
// Only safe while no consumer is running.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey, q.queueKey, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// DeadLetters returns the raw dead-lettered envelopes, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.deadLetterKey, 0, -1).Result()
}

func (q *RedisQueue) Close() error {
	return nil
}

type redisDelivery struct {
	queue *RedisQueue
	raw   string
	env   envelope
}

func (d *redisDelivery) Body() []byte {
	return d.env.Payload
}

func (d *redisDelivery) Attempt() int {
	return d.env.Attempt
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	return d.queue.client.LRem(ctx, d.queue.processingKey, 1, d.raw).Err()
}

// Retry waits out the delay and then swaps the message from the processing
// list back onto the queue with its attempt count bumped.
func (d *redisDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	if err := sleepCtx(ctx, delay); err != nil {
		return err
	}
	next := d.env
	next.Attempt++
	next.Error = causeText(cause)
	return d.move(ctx, d.queue.queueKey, next)
}

func (d *redisDelivery) DeadLetter(ctx context.Context, cause error) error {
	failed := d.env
	failed.Error = causeText(cause)
	ts := time.Now().UTC()
	failed.FailedAt = &ts
	return d.move(ctx, d.queue.deadLetterKey, failed)
}

func (d *redisDelivery) move(ctx context.Context, key string, env envelope) error {
	if !json.Valid(env.Payload) {
		quoted, err := json.Marshal(string(env.Payload))
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = quoted
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = d.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, d.queue.processingKey, 1, d.raw)
		pipe.LPush(ctx, key, raw)
		return nil
	})
	return err
}
