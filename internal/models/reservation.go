package models

import (
	"fmt"
	"strings"
	"time"
)

// ReservationStatus is the single lifecycle flag of a reservation.
type ReservationStatus string

const (
	StatusPending ReservationStatus = "PENDING"
	StatusMatched ReservationStatus = "MATCHED"
)

// MockType is the interview category a reservation is made for.
type MockType string

const (
	MockDSA           MockType = "DSA"
	MockSystemDesign  MockType = "SYSTEM_DESIGN"
	MockBehavioral    MockType = "BEHAVIORAL"
	MockFrontend      MockType = "FRONTEND"
	MockMachineCoding MockType = "MACHINE_CODING"
)

// DefaultMockTypes is used when the config does not list its own categories.
var DefaultMockTypes = []MockType{MockDSA, MockSystemDesign, MockBehavioral, MockFrontend, MockMachineCoding}

// ParseMockType normalizes raw input and checks it against the allowed set.
func ParseMockType(raw string, allowed []MockType) (MockType, error) {
	mt := MockType(strings.ToUpper(strings.TrimSpace(raw)))
	if mt == "" {
		return "", fmt.Errorf("mock type is required")
	}
	if len(allowed) == 0 {
		allowed = DefaultMockTypes
	}
	for _, a := range allowed {
		if a == mt {
			return mt, nil
		}
	}
	return "", fmt.Errorf("unknown mock type %q", raw)
}

// Reservation is one user's intent to practice a mock type at a given time.
type Reservation struct {
	ID           string            `json:"reservation_id"`
	UserID       string            `json:"user_id"`
	MockType     MockType          `json:"mock_type"`
	ScheduleTime time.Time         `json:"schedule_time"`
	Status       ReservationStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SlotKey renders a schedule time in the canonical form the store keys on.
// Times are compared at second precision in UTC.
func SlotKey(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseSlotKey is the inverse of SlotKey.
func ParseSlotKey(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
