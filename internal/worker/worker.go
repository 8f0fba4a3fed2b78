package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mockpair/internal/matching"
	"mockpair/internal/metrics"
	"mockpair/internal/models"
	"mockpair/internal/queue"

	"github.com/rs/zerolog"
)

// ErrUndecodable marks a message that can never be processed.
var ErrUndecodable = errors.New("undecodable intent")

// Pairer runs the pairing protocol for one intent.
type Pairer interface {
	Pair(ctx context.Context, intent models.Intent) (matching.Result, error)
}

// Worker is the asynchronous entry point. It consumes booking intents one at
// a time and feeds them to the matcher.
type Worker struct {
	source      queue.Source
	pairer      Pairer
	retryPolicy RetryPolicy
	loc         *time.Location
	mockTypes   []models.MockType
	logger      *zerolog.Logger
}

// NewWorker builds a worker. Unset retry fields fall back to 5 attempts
// with 2s..1m exponential backoff.
func NewWorker(source queue.Source, pairer Pairer, retry RetryPolicy, loc *time.Location, mockTypes []models.MockType, logger *zerolog.Logger) *Worker {
	retry = retry.withDefaults()
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Worker{
		source:      source,
		pairer:      pairer,
		retryPolicy: retry,
		loc:         loc,
		mockTypes:   mockTypes,
		logger:      logger,
	}
}

// Run blocks until ctx is done or the source is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("Worker started")
	defer w.logger.Info().Msg("Worker stopped")

	for {
		d, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return fmt.Errorf("next delivery: %w", err)
		}
		w.Handle(ctx, d)
	}
}

// Handle processes a single delivery and settles it.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) {
	log := w.logger.With().Int("attempt", d.Attempt()).Logger()

	intent, err := w.decode(d.Body())
	if err != nil {
		log.Error().Err(err).Str("body", string(d.Body())).Msg("Dropping undecodable intent")
		w.deadLetter(ctx, d, err, &log)
		return
	}

	log = log.With().
		Str("user_id", intent.UserID).
		Str("mock_type", string(intent.MockType)).
		Str("schedule_time", models.SlotKey(intent.ScheduleTime)).
		Logger()

	result, err := w.pairer.Pair(ctx, intent)
	if err != nil {
		metrics.IncPairing("queue", "error")
		if errors.Is(err, matching.ErrInvalidIntent) || matching.IsUnknownUser(err) {
			log.Error().Err(err).Msg("Dropping invalid intent")
			w.deadLetter(ctx, d, err, &log)
			return
		}
		w.retryOrFail(ctx, d, err, &log)
		return
	}

	metrics.IncPairing("queue", strings.ToLower(result.Outcome.String()))
	if err := d.Ack(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to ack delivery")
		return
	}
	metrics.IncDelivery("ack")
	log.Debug().Str("outcome", result.Outcome.String()).Msg("Intent processed")
}

func (w *Worker) decode(body []byte) (models.Intent, error) {
	var msg models.IntentMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.Intent{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	intent, err := msg.Intent(w.loc, w.mockTypes)
	if err != nil {
		return models.Intent{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return intent, nil
}

func (w *Worker) retryOrFail(ctx context.Context, d queue.Delivery, cause error, log *zerolog.Logger) {
	attempt := d.Attempt()
	if w.retryPolicy.Exhausted(attempt) {
		log.Error().Err(cause).Int("max_retries", w.retryPolicy.MaxRetries).Msg("Intent exhausted retries")
		w.deadLetter(ctx, d, cause, log)
		return
	}

	delay := w.retryPolicy.NextDelay(attempt)
	log.Warn().Err(cause).Dur("delay", delay).Msg("Intent failed, requeueing")
	if err := d.Retry(ctx, delay, cause); err != nil {
		log.Warn().Err(err).Msg("Failed to requeue delivery")
		return
	}
	metrics.IncDelivery("requeue")
}

func (w *Worker) deadLetter(ctx context.Context, d queue.Delivery, cause error, log *zerolog.Logger) {
	if err := d.DeadLetter(ctx, cause); err != nil {
		log.Warn().Err(err).Msg("Failed to dead-letter delivery")
		return
	}
	metrics.IncDelivery("dead_letter")
}
