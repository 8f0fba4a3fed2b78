package queue

import (
	"context"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/models"

	"github.com/rs/zerolog"
)

// TaskStore is the persistence the SQL queue runs on.
type TaskStore interface {
	EnqueueIntentTask(ctx context.Context, payload string) (*models.QueueTask, error)
	ClaimIntentTask(ctx context.Context, visibility time.Duration) (*models.QueueTask, error)
	CompleteIntentTask(ctx context.Context, id int64) error
	RetryIntentTask(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error
	FailIntentTask(ctx context.Context, id int64, errMsg string) error
}

// SQLQueue keeps intents in the intent_queue table. A claimed task stays
// invisible for the visibility timeout, after which another worker may take
// it over.
type SQLQueue struct {
	store        TaskStore
	pollInterval time.Duration
	visibility   time.Duration
	logger       *zerolog.Logger
}

func NewSQLQueue(store TaskStore, cfg config.SQLQueueConfig, logger *zerolog.Logger) *SQLQueue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = models.DefaultPollInterval
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = models.DefaultVisibilityTimeout
	}
	return &SQLQueue{
		store:        store,
		pollInterval: cfg.PollInterval,
		visibility:   cfg.VisibilityTimeout,
		logger:       logger,
	}
}

func (q *SQLQueue) Publish(ctx context.Context, msg models.IntentMessage) error {
	body, err := encodeIntent(msg)
	if err != nil {
		return err
	}
	_, err = q.store.EnqueueIntentTask(ctx, string(body))
	return err
}

// Next polls until a task is due or ctx ends.
func (q *SQLQueue) Next(ctx context.Context) (Delivery, error) {
	for {
		task, err := q.store.ClaimIntentTask(ctx, q.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.logger.Warn().Err(err).Msg("Failed to claim intent task")
		} else if task != nil {
			return &sqlDelivery{store: q.store, task: task}, nil
		}

		if err := sleepCtx(ctx, q.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *SQLQueue) Close() error {
	return nil
}

type sqlDelivery struct {
	store TaskStore
	task  *models.QueueTask
}

func (d *sqlDelivery) Body() []byte {
	return []byte(d.task.Payload)
}

func (d *sqlDelivery) Attempt() int {
	return d.task.RetryCount + 1
}

func (d *sqlDelivery) Ack(ctx context.Context) error {
	return d.store.CompleteIntentTask(ctx, d.task.ID)
}

// Retry schedules the task instead of sleeping; the row itself carries the
// delay.
func (d *sqlDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	return d.store.RetryIntentTask(ctx, d.task.ID, causeText(cause), time.Now().Add(delay))
}

func (d *sqlDelivery) DeadLetter(ctx context.Context, cause error) error {
	return d.store.FailIntentTask(ctx, d.task.ID, causeText(cause))
}
