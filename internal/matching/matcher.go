package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mockpair/internal/domain"
	"mockpair/internal/events"
	"mockpair/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is the defined result of a pairing attempt. The numeric values are
// the response codes seen by callers.
type Outcome int

const (
	OutcomeAlreadyBooked Outcome = 1
	OutcomeMatched       Outcome = 2
	OutcomeWaiting       Outcome = 3
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyBooked:
		return "ALREADY_BOOKED"
	case OutcomeMatched:
		return "MATCHED"
	case OutcomeWaiting:
		return "WAITING"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

var (
	// ErrEffectsFailed marks a match whose booking records or notifications
	// could not be staged. The whole pairing is rolled back.
	ErrEffectsFailed = errors.New("match effects failed")

	ErrInvalidIntent = errors.New("invalid booking intent")
	ErrInvalidCancel = errors.New("invalid cancellation request")

	// ErrCancelMismatch means the ticket pair does not name one confirmed
	// match. Nothing is removed.
	ErrCancelMismatch = errors.New("tickets do not identify a confirmed match")
)

// Result describes a completed pairing attempt.
type Result struct {
	Outcome     Outcome
	Reservation *models.Reservation
	Partner     *models.Reservation
	Pair        *models.MatchedPair
}

// Matcher runs the pairing and cancellation protocols against a store. It
// keeps no state between calls.
type Matcher struct {
	store           domain.Store
	events          domain.EventPublisher
	notificationTTL time.Duration
	newRoomID       func() string
	logger          *zerolog.Logger
}

func NewMatcher(store domain.Store, publisher domain.EventPublisher, notificationTTL time.Duration, logger *zerolog.Logger) *Matcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if notificationTTL <= 0 {
		notificationTTL = models.DefaultNotificationTTL
	}
	return &Matcher{
		store:           store,
		events:          publisher,
		notificationTTL: notificationTTL,
		newRoomID:       uuid.NewString,
		logger:          logger,
	}
}

// Pair records the caller's reservation and, in the same transaction, tries
// to claim a waiting partner for the slot. A duplicate reservation is the
// ALREADY_BOOKED outcome, not an error.
func (m *Matcher) Pair(ctx context.Context, intent models.Intent) (Result, error) {
	if err := validateIntent(intent); err != nil {
		return Result{}, err
	}

	var result Result
	err := m.store.WithTx(ctx, func(tx domain.Tx) error {
		own, err := tx.CreateReservation(ctx, intent.UserID, intent.MockType, intent.ScheduleTime)
		if err != nil {
			return err
		}

		partner, err := tx.TryClaimPartner(ctx, intent.MockType, intent.ScheduleTime, intent.UserID)
		if err != nil {
			return err
		}
		if partner == nil {
			result = Result{Outcome: OutcomeWaiting, Reservation: own}
			return nil
		}

		if err := tx.MarkMatched(ctx, own.ID); err != nil {
			return err
		}
		own.Status = models.StatusMatched

		pair := models.MatchedPair{
			RoomID:       m.newRoomID(),
			ScheduleTime: own.ScheduleTime,
			MockType:     own.MockType,
			First:        models.Participant{UserID: own.UserID, ReservationID: own.ID},
			Second:       models.Participant{UserID: partner.UserID, ReservationID: partner.ID},
		}
		if err := m.applyEffects(ctx, tx, pair); err != nil {
			return err
		}

		result = Result{Outcome: OutcomeMatched, Reservation: own, Partner: partner, Pair: &pair}
		return nil
	})

	log := m.logger.With().
		Str("user_id", intent.UserID).
		Str("mock_type", string(intent.MockType)).
		Str("schedule_time", models.SlotKey(intent.ScheduleTime)).
		Logger()

	if errors.Is(err, domain.ErrDuplicateReservation) {
		log.Debug().Msg("Reservation already exists for slot")
		return Result{Outcome: OutcomeAlreadyBooked}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Pairing failed")
		return Result{}, err
	}

	switch result.Outcome {
	case OutcomeMatched:
		log.Info().
			Str("room_id", result.Pair.RoomID).
			Str("partner_user_id", result.Partner.UserID).
			Msg("Reservation matched")
		m.publishMatch(events.EventMatchConfirmed, *result.Pair)
	case OutcomeWaiting:
		log.Info().Str("reservation_id", result.Reservation.ID).Msg("Reservation waiting for partner")
	}
	return result, nil
}

// applyEffects stages both mirrored booking records and one notification per
// participant inside tx.
func (m *Matcher) applyEffects(ctx context.Context, tx domain.Tx, pair models.MatchedPair) error {
	first, second := pair.Records()
	for _, rec := range []*models.BookingRecord{&first, &second} {
		if err := tx.AppendBookingRecord(ctx, rec); err != nil {
			return fmt.Errorf("%w: booking record for %s: %w", ErrEffectsFailed, rec.MyUserID, err)
		}
	}

	for _, rec := range []models.BookingRecord{first, second} {
		n, err := m.notification(models.NotificationMatchConfirmed, rec)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEffectsFailed, err)
		}
		if err := tx.CreateNotification(ctx, n); err != nil {
			return fmt.Errorf("%w: notification for %s: %w", ErrEffectsFailed, rec.MyUserID, err)
		}
	}
	return nil
}

func (m *Matcher) notification(kind string, rec models.BookingRecord) (*models.Notification, error) {
	payload, err := json.Marshal(noticeFor(rec))
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return &models.Notification{
		UserID:    rec.MyUserID,
		Kind:      kind,
		Payload:   string(payload),
		ExpiresAt: time.Now().UTC().Add(m.notificationTTL),
	}, nil
}

func noticeFor(rec models.BookingRecord) models.MatchNotice {
	n := models.MatchNotice{
		RoomID:        rec.RoomID,
		PartnerUserID: rec.OtherUserID,
		MockType:      rec.MockType,
		MyTicketID:    rec.MyTicketID,
		OtherTicketID: rec.OtherUserTicketID,
	}
	if !rec.BookingTime.IsZero() {
		at := rec.BookingTime
		n.ScheduleTime = &at
	}
	return n
}

// publishMatch fans the committed event out in-process. Delivery is best
// effort; the persisted notification is the durable copy.
func (m *Matcher) publishMatch(eventType string, pair models.MatchedPair) {
	if m.events == nil {
		return
	}
	first, second := pair.Records()
	for _, rec := range []models.BookingRecord{first, second} {
		payload := events.MatchEventPayload{UserID: rec.MyUserID, Notice: noticeFor(rec)}
		if err := m.events.PublishJSON(eventType, payload); err != nil {
			m.logger.Warn().Err(err).Str("event", eventType).Str("user_id", rec.MyUserID).Msg("Failed to publish match event")
		}
	}
}

func validateIntent(intent models.Intent) error {
	switch {
	case strings.TrimSpace(intent.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidIntent)
	case intent.MockType == "":
		return fmt.Errorf("%w: mock type is required", ErrInvalidIntent)
	case intent.ScheduleTime.IsZero():
		return fmt.Errorf("%w: schedule time is required", ErrInvalidIntent)
	}
	return nil
}
