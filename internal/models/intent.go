package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	slotDateLayout = "2006-01-02"
	slotTimeLayout = "15:04"
)

// TimeSlot is the wire form of a schedule time on the booking queue.
type TimeSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// IntentMessage is a booking intent as it travels over the queue.
type IntentMessage struct {
	UserID   string   `json:"userId"`
	MockType string   `json:"mockType"`
	TimeSlot TimeSlot `json:"timeSlot"`
}

// ScheduleTime combines the slot date and time in loc into one instant.
func (m IntentMessage) ScheduleTime(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date := strings.TrimSpace(m.TimeSlot.Date)
	clock := strings.TrimSpace(m.TimeSlot.Time)
	if date == "" || clock == "" {
		return time.Time{}, errors.New("timeSlot.date and timeSlot.time are required")
	}
	layout := slotDateLayout + " " + slotTimeLayout
	if strings.Count(clock, ":") == 2 {
		layout += ":05"
	}
	t, err := time.ParseInLocation(layout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time slot %s %s: %w", date, clock, err)
	}
	return t, nil
}

// NewIntentMessage renders an intent for publishing, expressing the schedule
// time in loc.
func NewIntentMessage(userID string, mockType MockType, at time.Time, loc *time.Location) IntentMessage {
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	return IntentMessage{
		UserID:   userID,
		MockType: string(mockType),
		TimeSlot: TimeSlot{
			Date: local.Format(slotDateLayout),
			Time: local.Format(slotTimeLayout),
		},
	}
}

// Intent is a decoded, validated booking request.
type Intent struct {
	UserID       string
	MockType     MockType
	ScheduleTime time.Time
}

// Intent validates the message and resolves it against loc and the allowed
// mock types.
func (m IntentMessage) Intent(loc *time.Location, allowed []MockType) (Intent, error) {
	userID := strings.TrimSpace(m.UserID)
	if userID == "" {
		return Intent{}, errors.New("userId is required")
	}
	mt, err := ParseMockType(m.MockType, allowed)
	if err != nil {
		return Intent{}, err
	}
	at, err := m.ScheduleTime(loc)
	if err != nil {
		return Intent{}, err
	}
	return Intent{UserID: userID, MockType: mt, ScheduleTime: at}, nil
}
