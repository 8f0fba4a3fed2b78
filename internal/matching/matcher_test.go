package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/database"
	"mockpair/internal/domain"
	"mockpair/internal/events"
	"mockpair/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slot = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func setupStore(t *testing.T, users ...string) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "matching.db"),
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range users {
		require.NoError(t, db.UpsertUser(context.Background(), &models.User{ID: id}))
	}
	return db
}

func intent(userID string) models.Intent {
	return models.Intent{UserID: userID, MockType: models.MockDSA, ScheduleTime: slot}
}

func TestPair_Scenario(t *testing.T) {
	db := setupStore(t, "A", "B")
	bus := events.NewEventBus()
	var confirmed, cancelled []events.MatchEventPayload
	bus.Subscribe(events.EventMatchConfirmed, func(e *events.Event) error {
		var p events.MatchEventPayload
		require.NoError(t, e.Decode(&p))
		confirmed = append(confirmed, p)
		return nil
	})
	bus.Subscribe(events.EventMatchCancelled, func(e *events.Event) error {
		var p events.MatchEventPayload
		require.NoError(t, e.Decode(&p))
		cancelled = append(cancelled, p)
		return nil
	})

	m := NewMatcher(db, bus, 0, nil)
	ctx := context.Background()

	first, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, first.Outcome)
	require.NotNil(t, first.Reservation)

	second, err := m.Pair(ctx, intent("B"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, second.Outcome)
	require.NotNil(t, second.Pair)
	assert.NotEmpty(t, second.Pair.RoomID)
	assert.Equal(t, "A", second.Partner.UserID)
	assert.Equal(t, first.Reservation.ID, second.Partner.ID)

	aRecords, err := db.GetBookingRecords(ctx, "A")
	require.NoError(t, err)
	bRecords, err := db.GetBookingRecords(ctx, "B")
	require.NoError(t, err)
	require.Len(t, aRecords, 1)
	require.Len(t, bRecords, 1)

	a, b := aRecords[0], bRecords[0]
	assert.Equal(t, b.MyUserID, a.OtherUserID)
	assert.Equal(t, a.MyUserID, b.OtherUserID)
	assert.Equal(t, b.OtherUserTicketID, a.MyTicketID)
	assert.Equal(t, a.OtherUserTicketID, b.MyTicketID)
	assert.Equal(t, a.RoomID, b.RoomID)
	assert.Equal(t, second.Pair.RoomID, a.RoomID)
	assert.True(t, slot.Equal(a.BookingTime))

	for _, id := range []string{"A", "B"} {
		notes, err := db.GetNotifications(ctx, id)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationMatchConfirmed, notes[0].Kind)

		var notice models.MatchNotice
		require.NoError(t, json.Unmarshal([]byte(notes[0].Payload), &notice))
		assert.Equal(t, a.RoomID, notice.RoomID)
	}
	assert.Len(t, confirmed, 2)

	// A cancels using B's ticket.
	res, err := m.Cancel(ctx, CancelRequest{
		MyUserID:      "A",
		OtherUserID:   "B",
		MyTicketID:    a.MyTicketID,
		OtherTicketID: a.OtherUserTicketID,
	})
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Len(t, cancelled, 2)

	for _, id := range []string{"A", "B"} {
		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, recs)

		reservations, err := db.GetUserReservations(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, reservations)

		notes, err := db.GetNotifications(ctx, id)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, models.NotificationMatchCancelled, notes[1].Kind)
		assert.Contains(t, notes[0].Payload, `"schedule_time"`)
		assert.NotContains(t, notes[1].Payload, "schedule_time", "cancellations carry no slot")
	}

	again, err := m.Cancel(ctx, CancelRequest{
		MyUserID:      "A",
		OtherUserID:   "B",
		MyTicketID:    a.MyTicketID,
		OtherTicketID: a.OtherUserTicketID,
	})
	require.NoError(t, err)
	assert.False(t, again.Removed)
	assert.Len(t, cancelled, 2, "idempotent cancel must not notify again")

	notes, err := db.GetNotifications(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}

func TestPair_DuplicateIsAlreadyBooked(t *testing.T) {
	db := setupStore(t, "A", "B")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	_, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)

	dup, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyBooked, dup.Outcome)

	matched, err := m.Pair(ctx, intent("B"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, matched.Outcome)

	// Replaying either side after the match changes nothing.
	for _, id := range []string{"A", "B"} {
		res, err := m.Pair(ctx, intent(id))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyBooked, res.Outcome)

		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	}
}

func TestPair_DifferentSlotsDoNotMatch(t *testing.T) {
	db := setupStore(t, "A", "B", "C")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	res, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, res.Outcome)

	res, err = m.Pair(ctx, models.Intent{UserID: "B", MockType: models.MockSystemDesign, ScheduleTime: slot})
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, res.Outcome)

	res, err = m.Pair(ctx, models.Intent{UserID: "C", MockType: models.MockDSA, ScheduleTime: slot.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, res.Outcome)
}

func TestPair_EffectsFailureRollsBack(t *testing.T) {
	db := setupStore(t, "A", "B")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	waiting, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)

	// A stale record already holds A's ticket, so A's half of the match
	// cannot be written.
	stale := models.BookingRecord{
		MyUserID:          "A",
		OtherUserID:       "Z",
		BookingTime:       slot,
		MockType:          models.MockDSA,
		MyTicketID:        waiting.Reservation.ID,
		OtherUserTicketID: "stale",
		RoomID:            "stale-room",
	}
	require.NoError(t, db.WithTx(ctx, func(tx domain.Tx) error {
		return tx.AppendBookingRecord(ctx, &stale)
	}))

	_, err = m.Pair(ctx, intent("B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEffectsFailed)
	assert.ErrorIs(t, err, domain.ErrFatal)

	list, err := db.GetSlotReservations(ctx, models.MockDSA, slot)
	require.NoError(t, err)
	require.Len(t, list, 1, "B's reservation must be rolled back")
	assert.Equal(t, waiting.Reservation.ID, list[0].ID)
	assert.Equal(t, models.StatusPending, list[0].Status)

	recs, err := db.GetBookingRecords(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = db.GetBookingRecords(ctx, "A")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "stale-room", recs[0].RoomID)

	for _, id := range []string{"A", "B"} {
		notes, err := db.GetNotifications(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, notes)
	}
}

func TestPair_UnknownUserDoesNotBlockSlot(t *testing.T) {
	db := setupStore(t, "B", "C")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	_, err := m.Pair(ctx, intent("ghost"))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.ErrorIs(t, err, domain.ErrFatal)
	assert.NotErrorIs(t, err, ErrEffectsFailed)

	res, err := m.Pair(ctx, intent("B"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, res.Outcome)

	res, err = m.Pair(ctx, intent("C"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)
	assert.Equal(t, "B", res.Partner.UserID)

	recs, err := db.GetBookingRecords(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPair_DeletedWaitingUserDoesNotBlockSlot(t *testing.T) {
	db := setupStore(t, "A", "B", "C")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	res, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)
	require.NoError(t, db.DeleteUser(ctx, "A"))

	res, err = m.Pair(ctx, intent("B"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, res.Outcome)

	res, err = m.Pair(ctx, intent("C"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, res.Outcome)
	assert.Equal(t, "B", res.Partner.UserID)
}

func TestPair_InvalidIntent(t *testing.T) {
	m := NewMatcher(nil, nil, 0, nil)
	ctx := context.Background()

	for _, in := range []models.Intent{
		{MockType: models.MockDSA, ScheduleTime: slot},
		{UserID: "A", ScheduleTime: slot},
		{UserID: "A", MockType: models.MockDSA},
	} {
		_, err := m.Pair(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidIntent)
	}
}

func TestPair_ConcurrentSameUser(t *testing.T) {
	db := setupStore(t, "A")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	const n = 10
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := m.Pair(ctx, intent("A"))
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeWaiting])
	assert.Equal(t, n-1, counts[OutcomeAlreadyBooked])

	list, err := db.GetUserReservations(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPair_ConcurrentDistinctUsers(t *testing.T) {
	for _, n := range []int{10, 7} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			pairConcurrently(t, n)
		})
	}
}

// pairConcurrently races n distinct users on one slot: n/2 pairs form, each
// reservation is claimed at most once, and an odd user is left waiting.
func pairConcurrently(t *testing.T, n int) {
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i)
	}
	db := setupStore(t, users...)
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	results := make(chan Result, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for _, id := range users {
		go func(id string) {
			defer wg.Done()
			res, err := m.Pair(ctx, intent(id))
			assert.NoError(t, err)
			results <- res
		}(id)
	}
	wg.Wait()
	close(results)

	rooms := map[string]int{}
	partners := map[string]bool{}
	matched, waiting := 0, 0
	for res := range results {
		if res.Outcome == OutcomeWaiting {
			waiting++
		}
		if res.Outcome != OutcomeMatched {
			continue
		}
		matched++
		rooms[res.Pair.RoomID]++
		assert.False(t, partners[res.Partner.ID], "partner claimed twice")
		partners[res.Partner.ID] = true
	}
	assert.Equal(t, n/2, matched)
	assert.Equal(t, n-n/2, waiting)
	assert.Len(t, rooms, n/2)

	list, err := db.GetSlotReservations(ctx, models.MockDSA, slot)
	require.NoError(t, err)
	require.Len(t, list, n)
	pending := 0
	for _, r := range list {
		if r.Status == models.StatusPending {
			pending++
		}
	}
	assert.Equal(t, n%2, pending)

	withRecord := 0
	for _, id := range users {
		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		require.LessOrEqual(t, len(recs), 1, "user %s", id)
		if len(recs) == 1 {
			withRecord++
			assert.NotEqual(t, id, recs[0].OtherUserID)
		}
	}
	assert.Equal(t, n/2*2, withRecord)
}

func TestCancel_MismatchedTicketsRemoveNothing(t *testing.T) {
	db := setupStore(t, "A", "B", "C")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	_, err := m.Pair(ctx, intent("A"))
	require.NoError(t, err)
	matched, err := m.Pair(ctx, intent("B"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMatched, matched.Outcome)

	other, err := m.Pair(ctx, models.Intent{UserID: "C", MockType: models.MockBehavioral, ScheduleTime: slot})
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, other.Outcome)

	aTicket := matched.Partner.ID
	_, err = m.Cancel(ctx, CancelRequest{
		MyUserID:      "A",
		OtherUserID:   "C",
		MyTicketID:    aTicket,
		OtherTicketID: other.Reservation.ID,
	})
	assert.ErrorIs(t, err, ErrCancelMismatch)

	for _, id := range []string{"A", "B"} {
		recs, err := db.GetBookingRecords(ctx, id)
		require.NoError(t, err)
		assert.Len(t, recs, 1, "user %s", id)

		reservations, err := db.GetUserReservations(ctx, id)
		require.NoError(t, err)
		assert.Len(t, reservations, 1, "user %s", id)
	}
	reservations, err := db.GetUserReservations(ctx, "C")
	require.NoError(t, err)
	assert.Len(t, reservations, 1, "an unrelated reservation must survive")

	// A ticket pair with no records and no reservations left is a no-op.
	res, err := m.Cancel(ctx, CancelRequest{MyUserID: "A", OtherUserID: "C", MyTicketID: "gone-1", OtherTicketID: "gone-2"})
	require.NoError(t, err)
	assert.False(t, res.Removed)
}

func TestCancel_OneSidedRecordRollsBack(t *testing.T) {
	db := setupStore(t, "A", "B")
	m := NewMatcher(db, nil, 0, nil)
	ctx := context.Background()

	// Only A holds a record for this ticket pair.
	lone := models.BookingRecord{
		MyUserID:          "A",
		OtherUserID:       "B",
		BookingTime:       slot,
		MockType:          models.MockDSA,
		MyTicketID:        "t-a",
		OtherUserTicketID: "t-b",
		RoomID:            "room",
	}
	require.NoError(t, db.WithTx(ctx, func(tx domain.Tx) error {
		return tx.AppendBookingRecord(ctx, &lone)
	}))

	_, err := m.Cancel(ctx, CancelRequest{MyUserID: "A", OtherUserID: "B", MyTicketID: "t-a", OtherTicketID: "t-b"})
	assert.ErrorIs(t, err, ErrCancelMismatch)

	recs, err := db.GetBookingRecords(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, recs, 1, "the removal of A's record must roll back")
}

func TestCancel_Invalid(t *testing.T) {
	m := NewMatcher(nil, nil, 0, nil)
	_, err := m.Cancel(context.Background(), CancelRequest{MyUserID: "A", OtherUserID: "B", MyTicketID: "t"})
	assert.ErrorIs(t, err, ErrInvalidCancel)

	_, err = m.Cancel(context.Background(), CancelRequest{MyUserID: "A", OtherUserID: "A", MyTicketID: "t1", OtherTicketID: "t2"})
	assert.ErrorIs(t, err, ErrInvalidCancel)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ALREADY_BOOKED", OutcomeAlreadyBooked.String())
	assert.Equal(t, "MATCHED", OutcomeMatched.String())
	assert.Equal(t, "WAITING", OutcomeWaiting.String())
	assert.Equal(t, 1, int(OutcomeAlreadyBooked))
	assert.Equal(t, 2, int(OutcomeMatched))
	assert.Equal(t, 3, int(OutcomeWaiting))
}
