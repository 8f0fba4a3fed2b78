package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mockpair/internal/domain"
	"mockpair/internal/metrics"
	"mockpair/internal/models"
)

// Response is what the synchronous entry point returns to a caller.
type Response struct {
	Code          int    `json:"code"`
	Message       string `json:"message"`
	RoomID        string `json:"roomId,omitempty"`
	PartnerUserID string `json:"partnerUserId,omitempty"`
	MyTicketID    string `json:"myTicketId,omitempty"`
	OtherTicketID string `json:"otherUserTicketId,omitempty"`
}

var outcomeMessages = map[Outcome]string{
	OutcomeAlreadyBooked: "you already have a reservation for this slot",
	OutcomeMatched:       "matched with a partner",
	OutcomeWaiting:       "waiting for a partner",
}

// NewResponse maps a pairing result to its response.
func NewResponse(r Result) Response {
	resp := Response{Code: int(r.Outcome), Message: outcomeMessages[r.Outcome]}
	if r.Reservation != nil {
		resp.MyTicketID = r.Reservation.ID
	}
	if r.Pair != nil {
		resp.RoomID = r.Pair.RoomID
		resp.PartnerUserID = r.Pair.Second.UserID
		resp.OtherTicketID = r.Pair.Second.ReservationID
	}
	return resp
}

// Service is the synchronous entry point. It runs the matcher inline and
// never touches the queue.
type Service struct {
	matcher   *Matcher
	profiles  domain.ProfileReader
	mockTypes []models.MockType
}

func NewService(matcher *Matcher, profiles domain.ProfileReader, mockTypes []models.MockType) *Service {
	return &Service{matcher: matcher, profiles: profiles, mockTypes: mockTypes}
}

func (s *Service) RequestBooking(ctx context.Context, userID, mockType string, scheduleTime time.Time) (Response, error) {
	mt, err := models.ParseMockType(mockType, s.mockTypes)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	result, err := s.matcher.Pair(ctx, models.Intent{
		UserID:       strings.TrimSpace(userID),
		MockType:     mt,
		ScheduleTime: scheduleTime,
	})
	if err != nil {
		metrics.IncPairing("sync", "error")
		return Response{}, err
	}

	metrics.IncPairing("sync", strings.ToLower(result.Outcome.String()))
	return NewResponse(result), nil
}

func (s *Service) CancelBooking(ctx context.Context, req CancelRequest) (CancelResult, error) {
	res, err := s.matcher.Cancel(ctx, req)
	switch {
	case errors.Is(err, ErrCancelMismatch):
		metrics.IncCancellation("rejected")
	case err != nil:
		metrics.IncCancellation("error")
	case res.Removed:
		metrics.IncCancellation("removed")
	default:
		metrics.IncCancellation("noop")
	}
	return res, err
}

// GetBookings returns the user's booking records in append order.
func (s *Service) GetBookings(ctx context.Context, userID string) ([]*models.BookingRecord, error) {
	if s.profiles == nil {
		return nil, errors.New("profile reader not configured")
	}
	return s.profiles.GetBookingRecords(ctx, userID)
}

// IsInvalidRequest reports whether err was caused by caller input.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidIntent) || errors.Is(err, ErrInvalidCancel)
}

// IsUnknownUser reports whether the requesting user has no users row. A
// partner vanishing mid-match is an effects failure instead.
func IsUnknownUser(err error) bool {
	return errors.Is(err, domain.ErrUserNotFound) && !errors.Is(err, ErrEffectsFailed)
}
