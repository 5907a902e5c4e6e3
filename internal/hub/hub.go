// Package hub dispatches real-time events to the room manager and the
// message relay.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// Rooms is the part of the registry the hub drives.
type Rooms interface {
	Join(conn interfaces.Connection, roomID string) (bool, error)
	LeaveAll(conn interfaces.Connection) []string
	GetStats() map[string]int
}

// Authorizer loads a consultation and applies the access policy.
type Authorizer interface {
	Authorize(ctx context.Context, actor types.Identity, consultationID string) (*types.Consultation, error)
}

// Relay persists and broadcasts a chat line.
type Relay interface {
	HandleIncoming(ctx context.Context, sender types.Identity, consultationID, text string) (*types.MessageView, error)
}

var _ interfaces.EventHandler = (*Hub)(nil)

// Hub routes each decoded inbound event to its operation and reports failures
// to the originating connection only.
// ARCHITECTURAL DISCOVERY: The hub holds no connection state of its own; room
// membership lives in the registry and identity on the connection
type Hub struct {
	rooms         Rooms
	authorizer    Authorizer
	relay         Relay
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	statsInterval time.Duration

	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

func NewHub(rooms Rooms, authorizer Authorizer, relay Relay, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:         rooms,
		authorizer:    authorizer,
		relay:         relay,
		metrics:       m,
		logger:        logger.With().Str("component", "hub").Logger(),
		statsInterval: time.Minute,
	}
}

// Start marks the hub ready and begins periodic stats logging.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	go h.run(ctx, h.shutdown, h.done)
	h.logger.Info().Msg("hub started")
	return nil
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := h.rooms.GetStats()
			h.logger.Debug().
				Int("rooms", stats["rooms"]).
				Int("room_members", stats["room_members"]).
				Msg("room stats")
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop refuses further events. Open connections are closed by the server.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("hub stopped")
	return nil
}

// IsRunning reports whether the hub accepts events.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// HandleEvent runs one inbound event to completion. Called from the
// connection's read loop, so events from one connection never overlap.
func (h *Hub) HandleEvent(ctx context.Context, conn interfaces.Connection, ev types.InboundEvent) {
	if !h.IsRunning() {
		h.reply(conn, ev.EventName(), types.ErrorEvent{Message: "Server is shutting down"})
		return
	}

	switch e := ev.(type) {
	case types.JoinConsultation:
		h.join(ctx, conn, e)
	case types.SendMessage:
		h.send(ctx, conn, e)
	default:
		h.reply(conn, ev.EventName(), types.ErrorEvent{Message: "Unknown event"})
	}
}

func (h *Hub) join(ctx context.Context, conn interfaces.Connection, e types.JoinConsultation) {
	ident := conn.Identity()
	c, err := h.authorizer.Authorize(ctx, ident, e.ConsultationID)
	if err == nil {
		_, err = h.rooms.Join(conn, c.ID)
	}
	if err != nil {
		h.metrics.RoomJoins.WithLabelValues(joinResult(err)).Inc()
		h.logger.Info().Err(err).
			Str("conn_id", conn.ID()).
			Str("user_id", ident.UserID).
			Str("consultation_id", e.ConsultationID).
			Msg("join refused")
		h.reply(conn, e.EventName(), types.ErrorEvent{Message: clientMessage(err, "Failed to join consultation")})
		return
	}

	h.metrics.RoomJoins.WithLabelValues("ok").Inc()
	h.reply(conn, e.EventName(), types.Joined{ConsultationID: c.ID, Room: c.Room()})
}

func (h *Hub) send(ctx context.Context, conn interfaces.Connection, e types.SendMessage) {
	if _, err := h.relay.HandleIncoming(ctx, conn.Identity(), e.ConsultationID, e.Text); err != nil {
		h.logger.Info().Err(err).
			Str("conn_id", conn.ID()).
			Str("user_id", conn.Identity().UserID).
			Str("consultation_id", e.ConsultationID).
			Msg("message refused")
		h.reply(conn, e.EventName(), types.ErrorEvent{Message: clientMessage(err, "Failed to send message")})
	}
}

// Disconnect removes the connection from every room. Nothing is broadcast.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	rooms := h.rooms.LeaveAll(conn)
	h.logger.Debug().Str("conn_id", conn.ID()).Strs("rooms", rooms).Msg("connection left rooms")
}

func (h *Hub) reply(conn interfaces.Connection, event string, ev types.OutboundEvent) {
	if _, isErr := ev.(types.ErrorEvent); isErr {
		h.metrics.EventErrors.WithLabelValues(event).Inc()
	}
	if err := conn.Emit(ev); err != nil {
		h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("could not reply to connection")
	}
}

// clientMessage maps an error kind to the text shown to the client. Store
// and internal details never reach the client.
func clientMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "Consultation not found"
	case errors.Is(err, types.ErrAccessDenied):
		return "Access denied"
	case errors.Is(err, types.ErrEmptyMessage):
		return "Message text is required"
	case errors.Is(err, types.ErrMessageTooLarge):
		return "Message text is too long"
	case errors.Is(err, types.ErrRateLimited):
		return "Too many messages"
	default:
		return fallback
	}
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrAccessDenied):
		return "denied"
	default:
		return "error"
	}
}
