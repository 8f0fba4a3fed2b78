package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mockpair/internal/events"
	"mockpair/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	channelPrefix = "notifications:"
	recentSuffix  = ":recent"
	recentLimit   = 50
	pendingLimit  = 256
)

var errBufferFull = errors.New("notification buffer full")

// Message is what subscribers of a user's channel receive.
type Message struct {
	Type      string             `json:"type"`
	UserID    string             `json:"user_id"`
	Notice    models.MatchNotice `json:"notice"`
	CreatedAt time.Time          `json:"created_at"`
}

// Notifier pushes committed match events to per-user redis channels and
// keeps a short per-user backlog for clients that were offline. Bus events
// are buffered and sent by Run, so publishers never wait on redis. A nil
// client turns every call into a no-op.
type Notifier struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	pending chan Message
	logger  *zerolog.Logger
}

func NewNotifier(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if ttl <= 0 {
		ttl = models.DefaultNotificationTTL
	}
	return &Notifier{
		client:  client,
		ttl:     ttl,
		timeout: 2 * time.Second,
		pending: make(chan Message, pendingLimit),
		logger:  logger,
	}
}

// Channel is the pub/sub channel for userID.
func Channel(userID string) string {
	return channelPrefix + userID
}

func recentKey(userID string) string {
	return channelPrefix + userID + recentSuffix
}

// Attach subscribes the notifier to match events on bus.
func (n *Notifier) Attach(bus *events.EventBus) {
	for _, eventType := range []string{events.EventMatchConfirmed, events.EventMatchCancelled} {
		bus.Subscribe(eventType, n.handle)
	}
}

// handle queues the event for Run. It never blocks; a full buffer drops the
// event, the persisted notification row still exists.
func (n *Notifier) handle(e *events.Event) error {
	var payload events.MatchEventPayload
	if err := e.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("%s event without user id", e.Type)
	}
	if n.client == nil {
		return nil
	}

	msg := Message{
		Type:      e.Type,
		UserID:    payload.UserID,
		Notice:    payload.Notice,
		CreatedAt: e.CreatedAt,
	}
	select {
	case n.pending <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s for %s", errBufferFull, e.Type, payload.UserID)
	}
}

// Run sends buffered events until ctx is done, then flushes what is left.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case msg := <-n.pending:
			n.send(msg)
		case <-ctx.Done():
			n.flush()
			return
		}
	}
}

func (n *Notifier) flush() {
	for {
		select {
		case msg := <-n.pending:
			n.send(msg)
		default:
			return
		}
	}
}

func (n *Notifier) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	// Publish logs its own failures.
	_ = n.Publish(ctx, msg)
}

// Publish sends msg to the user's channel and appends it to their backlog.
func (n *Notifier) Publish(ctx context.Context, msg Message) error {
	if n.client == nil {
		return nil
	}
	if msg.UserID == "" {
		return errors.New("notification without user id")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := recentKey(msg.UserID)
	_, err = n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, Channel(msg.UserID), data)
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, recentLimit-1)
		pipe.Expire(ctx, key, n.ttl)
		return nil
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("user_id", msg.UserID).Str("type", msg.Type).Msg("Failed to push notification")
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

// Recent returns the user's buffered notifications, newest first.
func (n *Notifier) Recent(ctx context.Context, userID string) ([]Message, error) {
	if n.client == nil {
		return nil, nil
	}
	vals, err := n.client.LRange(ctx, recentKey(userID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}

	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var msg Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
