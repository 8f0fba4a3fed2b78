package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMockType(t *testing.T) {
	mt, err := ParseMockType(" dsa ", nil)
	require.NoError(t, err)
	assert.Equal(t, MockDSA, mt)

	_, err = ParseMockType("", nil)
	assert.Error(t, err)

	_, err = ParseMockType("DSA", []MockType{MockBehavioral})
	assert.Error(t, err)
}

func TestIntentMessage_ScheduleTime(t *testing.T) {
	msg := IntentMessage{UserID: "u1", MockType: "DSA", TimeSlot: TimeSlot{Date: "2025-09-01", Time: "10:00"}}

	t.Run("UTC", func(t *testing.T) {
		got, err := msg.ScheduleTime(nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC), got)
	})

	t.Run("Location", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*60*60)
		got, err := msg.ScheduleTime(loc)
		require.NoError(t, err)
		assert.Equal(t, "2025-09-01T07:00:00Z", SlotKey(got))
	})

	t.Run("Seconds", func(t *testing.T) {
		m := msg
		m.TimeSlot.Time = "10:00:30"
		got, err := m.ScheduleTime(time.UTC)
		require.NoError(t, err)
		assert.Equal(t, 30, got.Second())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := IntentMessage{}.ScheduleTime(time.UTC)
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		m := msg
		m.TimeSlot.Date = "01/09/2025"
		_, err := m.ScheduleTime(time.UTC)
		assert.Error(t, err)
	})
}

func TestIntentMessage_Intent(t *testing.T) {
	msg := IntentMessage{UserID: " u1 ", MockType: "system_design", TimeSlot: TimeSlot{Date: "2025-09-01", Time: "10:00"}}

	intent, err := msg.Intent(time.UTC, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", intent.UserID)
	assert.Equal(t, MockSystemDesign, intent.MockType)

	_, err = msg.Intent(time.UTC, []MockType{MockDSA})
	assert.Error(t, err)

	noUser := msg
	noUser.UserID = ""
	_, err = noUser.Intent(time.UTC, nil)
	assert.Error(t, err)
}

func TestNewIntentMessage_RoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	at := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	msg := NewIntentMessage("u1", MockDSA, at, loc)
	assert.Equal(t, "2025-09-01", msg.TimeSlot.Date)
	assert.Equal(t, "15:00", msg.TimeSlot.Time)

	back, err := msg.ScheduleTime(loc)
	require.NoError(t, err)
	assert.True(t, back.Equal(at))
}

func TestMatchedPair_Records(t *testing.T) {
	pair := MatchedPair{
		RoomID:       "room-1",
		ScheduleTime: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
		MockType:     MockDSA,
		First:        Participant{UserID: "a", ReservationID: "ra"},
		Second:       Participant{UserID: "b", ReservationID: "rb"},
	}
	a, b := pair.Records()

	assert.Equal(t, "a", a.MyUserID)
	assert.Equal(t, a.OtherUserID, b.MyUserID)
	assert.Equal(t, b.OtherUserID, a.MyUserID)
	assert.Equal(t, a.MyTicketID, b.OtherUserTicketID)
	assert.Equal(t, b.MyTicketID, a.OtherUserTicketID)
	assert.Equal(t, a.RoomID, b.RoomID)
	assert.Equal(t, a, b.Mirror())
}

func TestSlotKey(t *testing.T) {
	loc := time.FixedZone("X", -2*60*60)
	a := time.Date(2025, 9, 1, 8, 0, 0, 500, loc)
	b := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, SlotKey(a), SlotKey(b))

	back, err := ParseSlotKey(SlotKey(a))
	require.NoError(t, err)
	assert.True(t, back.Equal(b))
}
