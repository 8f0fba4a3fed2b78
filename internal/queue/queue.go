package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/database"
	"mockpair/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DriverAMQP  = "amqp"
	DriverRedis = "redis"
	DriverSQL   = "sql"
)

// ErrClosed is returned by Next once the source has been shut down.
var ErrClosed = errors.New("queue closed")

// Delivery is one booking intent handed to a consumer. Exactly one of Ack,
// Retry or DeadLetter must be called.
type Delivery interface {
	Body() []byte
	// Attempt is 1 for the first delivery of a message.
	Attempt() int
	Ack(ctx context.Context) error
	// Retry returns the message to the queue to be redelivered no earlier
	// than delay from now.
	Retry(ctx context.Context, delay time.Duration, cause error) error
	// DeadLetter removes the message from the live queue for operator review.
	DeadLetter(ctx context.Context, cause error) error
}

// Source yields deliveries one at a time.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Publisher puts booking intents onto the queue.
type Publisher interface {
	Publish(ctx context.Context, msg models.IntentMessage) error
	Close() error
}

// OpenSource builds the consuming side of the configured driver. rdb is only
// needed for the redis driver and db only for the sql driver.
func OpenSource(cfg config.QueueConfig, rdb *redis.Client, db *database.DB, logger *zerolog.Logger) (Source, error) {
	switch cfg.Driver {
	case DriverAMQP:
		src, err := NewAMQPSource(cfg.AMQP, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case DriverRedis:
		if rdb == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		return NewRedisQueue(rdb, cfg.Redis, logger), nil
	case DriverSQL, "":
		if db == nil {
			return nil, errors.New("sql queue requires a database")
		}
		return NewSQLQueue(db, cfg.SQL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// OpenPublisher builds the producing side of the configured driver.
func OpenPublisher(cfg config.QueueConfig, rdb *redis.Client, db *database.DB, logger *zerolog.Logger) (Publisher, error) {
	switch cfg.Driver {
	case DriverAMQP:
		pub, err := NewAMQPPublisher(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case DriverRedis:
		if rdb == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		return NewRedisQueue(rdb, cfg.Redis, logger), nil
	case DriverSQL, "":
		if db == nil {
			return nil, errors.New("sql queue requires a database")
		}
		return NewSQLQueue(db, cfg.SQL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeIntent(msg models.IntentMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	return body, nil
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
