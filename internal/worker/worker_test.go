package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/database"
	"mockpair/internal/domain"
	"mockpair/internal/matching"
	"mockpair/internal/models"
	"mockpair/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var slot = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

type fakeDelivery struct {
	body    []byte
	attempt int

	acked      bool
	retried    bool
	retryDelay time.Duration
	dead       bool
	cause      error
}

func (d *fakeDelivery) Body() []byte { return d.body }
func (d *fakeDelivery) Attempt() int { return d.attempt }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Retry(_ context.Context, delay time.Duration, cause error) error {
	d.retried = true
	d.retryDelay = delay
	d.cause = cause
	return nil
}

func (d *fakeDelivery) DeadLetter(_ context.Context, cause error) error {
	d.dead = true
	d.cause = cause
	return nil
}

func (d *fakeDelivery) settled() int {
	n := 0
	for _, b := range []bool{d.acked, d.retried, d.dead} {
		if b {
			n++
		}
	}
	return n
}

type sliceSource struct {
	items []queue.Delivery
}

func (s *sliceSource) Next(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.items) == 0 {
		return nil, queue.ErrClosed
	}
	d := s.items[0]
	s.items = s.items[1:]
	return d, nil
}

func (s *sliceSource) Close() error { return nil }

type MockPairer struct {
	mock.Mock
}

func (m *MockPairer) Pair(ctx context.Context, intent models.Intent) (matching.Result, error) {
	args := m.Called(ctx, intent)
	return args.Get(0).(matching.Result), args.Error(1)
}

// recordingPairer passes through to next and keeps every result.
type recordingPairer struct {
	next    Pairer
	results []matching.Result
}

func (p *recordingPairer) Pair(ctx context.Context, intent models.Intent) (matching.Result, error) {
	res, err := p.next.Pair(ctx, intent)
	if err == nil {
		p.results = append(p.results, res)
	}
	return res, err
}

func delivery(t *testing.T, userID string, attempt int) *fakeDelivery {
	t.Helper()
	body, err := json.Marshal(models.NewIntentMessage(userID, models.MockDSA, slot, time.UTC))
	require.NoError(t, err)
	return &fakeDelivery{body: body, attempt: attempt}
}

func setupMatcher(t *testing.T, users ...string) (*database.DB, *matching.Matcher) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "worker.db"),
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range users {
		require.NoError(t, db.UpsertUser(context.Background(), &models.User{ID: id}))
	}
	return db, matching.NewMatcher(db, nil, 0, &logger)
}

func TestHandle_PairsAndAcks(t *testing.T) {
	db, matcher := setupMatcher(t, "A", "B")
	w := NewWorker(nil, matcher, RetryPolicy{}, time.UTC, nil, nil)
	ctx := context.Background()

	first := delivery(t, "A", 1)
	w.Handle(ctx, first)
	assert.True(t, first.acked)
	assert.Equal(t, 1, first.settled())

	second := delivery(t, "B", 1)
	w.Handle(ctx, second)
	assert.True(t, second.acked)

	records, err := db.GetBookingRecords(ctx, "A")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B", records[0].OtherUserID)
}

func TestHandle_RedeliveryIsIdempotent(t *testing.T) {
	db, matcher := setupMatcher(t, "A")
	w := NewWorker(nil, matcher, RetryPolicy{}, time.UTC, nil, nil)
	ctx := context.Background()

	w.Handle(ctx, delivery(t, "A", 1))
	again := delivery(t, "A", 2)
	w.Handle(ctx, again)

	assert.True(t, again.acked)
	reservations, err := db.GetUserReservations(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestHandle_RedeliveryAfterMatchIsIdempotent(t *testing.T) {
	db, matcher := setupMatcher(t, "A", "B")
	w := NewWorker(nil, matcher, RetryPolicy{}, time.UTC, nil, nil)
	ctx := context.Background()

	w.Handle(ctx, delivery(t, "A", 1))
	first := delivery(t, "B", 1)
	w.Handle(ctx, first)
	require.True(t, first.acked)

	before := map[string][]*models.BookingRecord{}
	for _, id := range []string{"A", "B"} {
		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		before[id] = recs
	}

	pairer := &recordingPairer{next: matcher}
	w = NewWorker(nil, pairer, RetryPolicy{}, time.UTC, nil, nil)
	again := delivery(t, "B", 2)
	w.Handle(ctx, again)

	assert.True(t, again.acked)
	assert.Equal(t, 1, again.settled())
	require.Len(t, pairer.results, 1)
	assert.Equal(t, matching.OutcomeAlreadyBooked, pairer.results[0].Outcome)

	for _, id := range []string{"A", "B"} {
		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		require.Len(t, recs, 1, "user %s", id)
		assert.Equal(t, before[id][0].ID, recs[0].ID)
		assert.Equal(t, before[id][0].RoomID, recs[0].RoomID)
	}
	assert.Equal(t, before["A"][0].RoomID, before["B"][0].RoomID)
}

func TestHandle_UnknownUserIsDeadLettered(t *testing.T) {
	db, matcher := setupMatcher(t, "B")
	w := NewWorker(nil, matcher, RetryPolicy{MaxRetries: 5}, time.UTC, nil, nil)
	ctx := context.Background()

	d := delivery(t, "ghost", 1)
	w.Handle(ctx, d)

	assert.True(t, d.dead)
	assert.False(t, d.retried)
	assert.ErrorIs(t, d.cause, domain.ErrUserNotFound)

	reservations, err := db.GetSlotReservations(ctx, models.MockDSA, slot)
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestHandle_LocalTimeSlot(t *testing.T) {
	db, matcher := setupMatcher(t, "A")
	loc := time.FixedZone("UTC+3", 3*60*60)
	w := NewWorker(nil, matcher, RetryPolicy{}, loc, nil, nil)
	ctx := context.Background()

	body, err := json.Marshal(models.IntentMessage{
		UserID:   "A",
		MockType: "dsa",
		TimeSlot: models.TimeSlot{Date: "2025-09-01", Time: "13:00"},
	})
	require.NoError(t, err)
	d := &fakeDelivery{body: body, attempt: 1}
	w.Handle(ctx, d)
	require.True(t, d.acked)

	reservations, err := db.GetSlotReservations(ctx, models.MockDSA, slot)
	require.NoError(t, err)
	assert.Len(t, reservations, 1)
}

func TestHandle_Undecodable(t *testing.T) {
	pairer := new(MockPairer)
	w := NewWorker(nil, pairer, RetryPolicy{}, time.UTC, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{"},
		{"missing slot", `{"userId":"A","mockType":"DSA"}`},
		{"bad date", `{"userId":"A","mockType":"DSA","timeSlot":{"date":"01/09/2025","time":"10:00"}}`},
		{"unknown mock type", `{"userId":"A","mockType":"CHESS","timeSlot":{"date":"2025-09-01","time":"10:00"}}`},
		{"missing user", `{"mockType":"DSA","timeSlot":{"date":"2025-09-01","time":"10:00"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelivery{body: []byte(tt.body), attempt: 1}
			w.Handle(context.Background(), d)
			assert.True(t, d.dead)
			assert.Equal(t, 1, d.settled())
			assert.ErrorIs(t, d.cause, ErrUndecodable)
		})
	}
	pairer.AssertNotCalled(t, "Pair", mock.Anything, mock.Anything)
}

func TestHandle_RetriesWithBackoff(t *testing.T) {
	pairer := new(MockPairer)
	cause := fmt.Errorf("begin tx: %w", domain.ErrTransient)
	pairer.On("Pair", mock.Anything, mock.Anything).Return(matching.Result{}, cause)

	retry := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	w := NewWorker(nil, pairer, retry, time.UTC, nil, nil)

	d := delivery(t, "A", 2)
	w.Handle(context.Background(), d)

	assert.True(t, d.retried)
	assert.Equal(t, 1, d.settled())
	assert.Equal(t, 2*time.Second, d.retryDelay)
	assert.ErrorIs(t, d.cause, domain.ErrTransient)
	pairer.AssertExpectations(t)
}

func TestHandle_DeadLettersAfterMaxRetries(t *testing.T) {
	pairer := new(MockPairer)
	pairer.On("Pair", mock.Anything, mock.Anything).Return(matching.Result{}, domain.ErrFatal)

	w := NewWorker(nil, pairer, RetryPolicy{MaxRetries: 3}, time.UTC, nil, nil)

	d := delivery(t, "A", 3)
	w.Handle(context.Background(), d)

	assert.True(t, d.dead)
	assert.False(t, d.retried)
	assert.ErrorIs(t, d.cause, domain.ErrFatal)
}

func TestHandle_InvalidIntentIsDeadLettered(t *testing.T) {
	pairer := new(MockPairer)
	pairer.On("Pair", mock.Anything, mock.Anything).Return(matching.Result{}, matching.ErrInvalidIntent)

	w := NewWorker(nil, pairer, RetryPolicy{}, time.UTC, nil, nil)
	d := delivery(t, "A", 1)
	w.Handle(context.Background(), d)

	assert.True(t, d.dead)
}

func TestRun_DrainsSource(t *testing.T) {
	_, matcher := setupMatcher(t, "A", "B", "C")
	a, b, c := delivery(t, "A", 1), delivery(t, "B", 1), delivery(t, "C", 1)
	src := &sliceSource{items: []queue.Delivery{a, b, c}}

	w := NewWorker(src, matcher, RetryPolicy{}, time.UTC, nil, nil)
	require.NoError(t, w.Run(context.Background()))

	for _, d := range []*fakeDelivery{a, b, c} {
		assert.True(t, d.acked)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(&sliceSource{}, new(MockPairer), RetryPolicy{}, time.UTC, nil, nil)
	assert.NoError(t, w.Run(ctx))
}

type failingSource struct{}

func (failingSource) Next(context.Context) (queue.Delivery, error) {
	return nil, errors.New("connection reset")
}

func (failingSource) Close() error { return nil }

func TestRun_SourceError(t *testing.T) {
	w := NewWorker(failingSource{}, new(MockPairer), RetryPolicy{}, time.UTC, nil, nil)
	assert.Error(t, w.Run(context.Background()))
}
