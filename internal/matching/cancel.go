package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mockpair/internal/domain"
	"mockpair/internal/events"
	"mockpair/internal/models"
)

// CancelRequest identifies a confirmed match from one participant's side.
type CancelRequest struct {
	MyUserID      string `json:"myUserId"`
	OtherUserID   string `json:"otherUserId"`
	MyTicketID    string `json:"myTicketId"`
	OtherTicketID string `json:"otherUserTicketId"`
}

// CancelResult reports whether the call removed anything. A repeated
// cancellation succeeds with Removed=false.
type CancelResult struct {
	Removed bool `json:"removed"`
}

func (r CancelRequest) validate() error {
	for name, v := range map[string]string{
		"myUserId":          r.MyUserID,
		"otherUserId":       r.OtherUserID,
		"myTicketId":        r.MyTicketID,
		"otherUserTicketId": r.OtherTicketID,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidCancel, name)
		}
	}
	if r.MyUserID == r.OtherUserID || r.MyTicketID == r.OtherTicketID {
		return fmt.Errorf("%w: both sides refer to the same participant", ErrInvalidCancel)
	}
	return nil
}

// Cancel removes both booking records and both reservations of a match in
// one transaction. A match that is already gone counts as cancelled; a ticket
// pair that does not name one confirmed match is ErrCancelMismatch and
// nothing is removed.
func (m *Matcher) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	if err := req.validate(); err != nil {
		return CancelResult{}, err
	}

	var removed bool
	var records [2]models.BookingRecord
	err := m.store.WithTx(ctx, func(tx domain.Tx) error {
		removed = false

		mine, err := tx.RemoveBookingRecord(ctx, req.MyUserID, req.MyTicketID, req.OtherTicketID)
		if err != nil {
			return err
		}
		theirs, err := tx.RemoveBookingRecord(ctx, req.OtherUserID, req.OtherTicketID, req.MyTicketID)
		if err != nil {
			return err
		}

		if mine != theirs {
			return fmt.Errorf("%w: only one side holds a booking record", ErrCancelMismatch)
		}
		if !mine {
			// Nothing to undo, unless a reservation is still around, in which
			// case the tickets do not belong together.
			for _, owned := range [][2]string{{req.MyTicketID, req.MyUserID}, {req.OtherTicketID, req.OtherUserID}} {
				held, err := tx.HasReservation(ctx, owned[0], owned[1])
				if err != nil {
					return err
				}
				if held {
					return fmt.Errorf("%w: reservation %s has no matching booking record", ErrCancelMismatch, owned[0])
				}
			}
			return nil
		}

		if _, err := tx.DeleteReservation(ctx, req.MyTicketID, req.MyUserID); err != nil {
			return err
		}
		if _, err := tx.DeleteReservation(ctx, req.OtherTicketID, req.OtherUserID); err != nil {
			return err
		}
		removed = true

		records[0] = models.BookingRecord{
			MyUserID:          req.MyUserID,
			OtherUserID:       req.OtherUserID,
			MyTicketID:        req.MyTicketID,
			OtherUserTicketID: req.OtherTicketID,
		}
		records[1] = records[0].Mirror()
		for _, rec := range records {
			n, err := m.notification(models.NotificationMatchCancelled, rec)
			if err != nil {
				return err
			}
			if err := tx.CreateNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})

	log := m.logger.With().
		Str("user_id", req.MyUserID).
		Str("other_user_id", req.OtherUserID).
		Str("ticket_id", req.MyTicketID).
		Logger()

	if errors.Is(err, ErrCancelMismatch) {
		log.Warn().Err(err).Msg("Cancellation rejected")
		return CancelResult{}, err
	}
	if err != nil {
		log.Error().Err(err).Msg("Cancellation failed")
		return CancelResult{}, err
	}

	if !removed {
		log.Info().Msg("Cancellation target already gone")
		return CancelResult{}, nil
	}

	log.Info().Msg("Match cancelled")
	if m.events != nil {
		for _, rec := range records {
			payload := events.MatchEventPayload{UserID: rec.MyUserID, Notice: noticeFor(rec)}
			if err := m.events.PublishJSON(events.EventMatchCancelled, payload); err != nil {
				log.Warn().Err(err).Msg("Failed to publish cancellation event")
			}
		}
	}
	return CancelResult{Removed: true}, nil
}
