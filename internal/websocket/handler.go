package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mobidoc/internal/identity"
	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

var upgrader = websocket.Upgrader{
	// FUNCTIONAL DISCOVERY: Mobile clients connect without an Origin header;
	// the bearer credential is the gate, not the origin
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler is the connection gate. It authenticates the handshake, binds the
// identity to the connection and feeds decoded events to the event handler.
type Handler struct {
	verifier  interfaces.IdentityVerifier
	directory interfaces.UserDirectory
	events    interfaces.EventHandler
	settings  Settings
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	live sync.Map // conn id -> *Connection
}

func NewHandler(verifier interfaces.IdentityVerifier, directory interfaces.UserDirectory, events interfaces.EventHandler, settings Settings, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		verifier:  verifier,
		directory: directory,
		events:    events,
		settings:  settings,
		metrics:   m,
		logger:    logger.With().Str("component", "ws_gate").Logger(),
	}
}

// HandleWebSocket authenticates and upgrades a handshake.
// ARCHITECTURAL DISCOVERY: Verification happens before the upgrade, so a
// rejected client gets a plain 401 and never holds a socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ident, reason, err := h.authenticate(r)
	if err != nil {
		h.metrics.RejectedHandshakes.WithLabelValues(reason).Inc()
		h.logger.Info().Err(err).Str("reason", reason).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		writeAuthError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RejectedHandshakes.WithLabelValues("upgrade").Inc()
		h.logger.Warn().Err(err).Str("user_id", ident.UserID).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, ident, h.settings)
	h.live.Store(conn.ID(), conn)
	h.metrics.ActiveConnections.Inc()
	h.logger.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", ident.UserID).
		Str("role", string(ident.Role)).
		Msg("client connected")

	go h.handleConnection(conn)
}

// authenticate returns the verified identity with its display name, or the
// rejection reason used for metrics.
func (h *Handler) authenticate(r *http.Request) (types.Identity, string, error) {
	token := identity.CredentialFromRequest(r)
	if token == "" {
		return types.Identity{}, "missing_token", types.ErrMissingCredential
	}

	ident, err := h.verifier.Verify(token)
	if err != nil {
		return types.Identity{}, "invalid_token", err
	}

	u, err := h.directory.GetUser(r.Context(), ident.UserID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.Identity{}, "unknown_user", types.ErrInvalidCredential
		}
		return types.Identity{}, "directory", err
	}
	ident.Name = u.Name
	return ident, "", nil
}

// CloseAll closes every open connection. http.Server.Shutdown does not
// track hijacked sockets, so the server calls this on the way down.
func (h *Handler) CloseAll() int {
	closed := 0
	h.live.Range(func(_, v any) bool {
		_ = v.(*Connection).Close()
		closed++
		return true
	})
	return closed
}

// ActiveConnections reports how many connections are open.
func (h *Handler) ActiveConnections() int {
	n := 0
	h.live.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	msg := "Authentication error: invalid token"
	switch {
	case errors.Is(err, types.ErrMissingCredential):
		msg = "Authentication error: no token provided"
	case !errors.Is(err, types.ErrUnauthenticated):
		status = http.StatusServiceUnavailable
		msg = "Authentication unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleConnection runs the read loop. Events from one connection are handled
// one at a time, in arrival order.
func (h *Handler) handleConnection(conn *Connection) {
	logger := h.logger.With().Str("conn_id", conn.ID()).Str("user_id", conn.Identity().UserID).Logger()
	defer func() {
		h.events.Disconnect(conn)
		_ = conn.Close()
		h.live.Delete(conn.ID())
		h.metrics.ActiveConnections.Dec()
		logger.Info().Msg("client disconnected")
	}()

	conn.conn.SetReadLimit(h.settings.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.settings.PongWait)); err != nil {
		logger.Warn().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			h.rejectFrame(conn, fmt.Errorf("%w: binary frame", types.ErrInvalidPayload), logger)
			continue
		}

		ev, err := types.DecodeInbound(data)
		if err != nil {
			h.rejectFrame(conn, err, logger)
			continue
		}
		h.dispatch(conn.Context(), conn, ev)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, ev types.InboundEvent) {
	h.events.HandleEvent(ctx, conn, ev)
}

func (h *Handler) rejectFrame(conn *Connection, err error, logger zerolog.Logger) {
	msg := "Invalid payload"
	label := "decode"
	if errors.Is(err, types.ErrUnknownEvent) {
		msg = "Unknown event"
		label = "unknown"
	}
	h.metrics.EventErrors.WithLabelValues(label).Inc()
	logger.Debug().Err(err).Msg("rejected inbound frame")
	if sendErr := conn.Emit(types.ErrorEvent{Message: msg}); sendErr != nil {
		logger.Debug().Err(sendErr).Msg("could not report frame error")
	}
}
