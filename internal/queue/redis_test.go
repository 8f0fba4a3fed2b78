package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewRedisQueue(client, config.RedisQueueConfig{
		QueueKey:     "test:intents",
		BlockTimeout: 50 * time.Millisecond,
	}, nil)
	return q, mr
}

func sampleIntent() models.IntentMessage {
	return models.IntentMessage{
		UserID:   "alice",
		MockType: "DSA",
		TimeSlot: models.TimeSlot{Date: "2025-09-01", Time: "10:00"},
	}
}

func TestRedisQueue_PublishAckFlow(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, sampleIntent()))

	d, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempt())

	var msg models.IntentMessage
	require.NoError(t, json.Unmarshal(d.Body(), &msg))
	assert.Equal(t, sampleIntent(), msg)

	processing, err := mr.List("test:intents:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	require.NoError(t, d.Ack(ctx))
	assert.False(t, mr.Exists("test:intents:processing"))
	assert.False(t, mr.Exists("test:intents"))
}

func TestRedisQueue_RetryBumpsAttempt(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, sampleIntent()))

	d, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Retry(ctx, 0, errors.New("database is locked")))

	again, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempt())
	assert.JSONEq(t, string(d.Body()), string(again.Body()))
}

func TestRedisQueue_DeadLetter(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, sampleIntent()))
	d, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.DeadLetter(ctx, errors.New("gave up")))

	assert.False(t, mr.Exists("test:intents:processing"))
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(dead[0]), &env))
	assert.Equal(t, "gave up", env.Error)
	assert.NotNil(t, env.FailedAt)
}

func TestRedisQueue_ForeignMessage(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush("test:intents", "not json")
	require.NoError(t, err)

	d, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(d.Body()))
	assert.Equal(t, 1, d.Attempt())

	require.NoError(t, d.DeadLetter(ctx, errors.New("decode")))
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestRedisQueue_NextHonoursContext(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue_Recover(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, sampleIntent()))
	_, err := q.Next(ctx)
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:intents:processing"))

	items, err := mr.List("test:intents")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
