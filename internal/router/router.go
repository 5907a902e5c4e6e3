// Package router relays chat lines into consultation rooms.
package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mobidoc/internal/access"
	"mobidoc/internal/events"
	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// Broadcaster fans an event out to a room's members.
type Broadcaster interface {
	EmitToRoom(roomID string, ev types.OutboundEvent) (int, error)
}

// Consultations authorizes access and presents persisted messages.
type Consultations interface {
	Authorize(ctx context.Context, actor types.Identity, consultationID string) (*types.Consultation, error)
	PresentMessage(ctx context.Context, m *types.Message) types.MessageView
}

// Router is the message relay.
// ARCHITECTURAL DISCOVERY: Persist-then-broadcast; a message is never sent to
// a room before the store has accepted it
type Router struct {
	consultations Consultations
	messages      interfaces.MessageStore
	rooms         Broadcaster
	publisher     events.Publisher
	limiter       *RateLimiter
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewRouter(consultations Consultations, messages interfaces.MessageStore, rooms Broadcaster, publisher events.Publisher, limiter *RateLimiter, m *metrics.Metrics, logger zerolog.Logger) *Router {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Router{
		consultations: consultations,
		messages:      messages,
		rooms:         rooms,
		publisher:     publisher,
		limiter:       limiter,
		metrics:       m,
		logger:        logger.With().Str("component", "relay").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// HandleIncoming validates, persists and broadcasts one chat line from the
// connection's identity. The returned view is what the room received.
func (r *Router) HandleIncoming(ctx context.Context, sender types.Identity, consultationID, text string) (*types.MessageView, error) {
	text, err := types.NormalizeText(text)
	if err != nil {
		return nil, err
	}
	if r.limiter != nil && !r.limiter.Allow(sender.UserID) {
		return nil, ErrRateLimitExceeded
	}

	c, err := r.consultations.Authorize(ctx, sender, consultationID)
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:             r.newID(),
		ConsultationID: c.ID,
		FromUserID:     sender.UserID,
		ToUserID:       access.Counterpart(sender.UserID, c),
		Text:           text,
		CreatedAt:      r.now(),
	}

	// TECHNICAL DISCOVERY: The write outlives the sender's connection; a client
	// that hangs up mid-send still gets its line stored
	if err := r.messages.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		r.logger.Error().Err(err).
			Str("consultation_id", c.ID).
			Str("user_id", sender.UserID).
			Msg("failed to persist message")
		return nil, err
	}

	view := r.consultations.PresentMessage(ctx, msg)
	delivered, err := r.rooms.EmitToRoom(c.ID, types.MessageEvent{MessageView: view})
	if err != nil {
		r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to broadcast message")
	}
	r.metrics.MessagesRelayed.Inc()

	r.logger.Debug().
		Str("consultation_id", c.ID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("message relayed")

	if err := r.publisher.Publish(ctx, events.MessageCreated, msg); err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to publish domain event")
	}
	return &view, nil
}
