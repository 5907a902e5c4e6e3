package websocket

import (
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"mobidoc/internal/metrics"
	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

const shardCount = 32

// roomShard guards the rooms whose id hashes to it.
type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]interfaces.Connection // room -> conn id -> conn
}

// membership is the reverse index of one connection's rooms.
type membership struct {
	mu    sync.Mutex
	rooms map[string]struct{}
}

// Registry tracks live room membership keyed by consultation id.
// ARCHITECTURAL DISCOVERY: Rooms are spread over sharded locks so traffic in
// one consultation never waits on another; fan-out happens outside any lock
type Registry struct {
	shards      [shardCount]*roomShard
	memberships sync.Map // conn id -> *membership
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewRegistry(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	r := &Registry{
		metrics: m,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
	for i := range r.shards {
		r.shards[i] = &roomShard{rooms: make(map[string]map[string]interfaces.Connection)}
	}
	return r
}

func (r *Registry) shard(roomID string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return r.shards[h.Sum32()%shardCount]
}

// Join adds the connection to a room. Joining twice is a no-op; the result
// reports whether the connection was newly added.
func (r *Registry) Join(conn interfaces.Connection, roomID string) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	if roomID == "" {
		return false, ErrEmptyRoom
	}

	s := r.shard(roomID)
	s.mu.Lock()
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]interfaces.Connection)
		s.rooms[roomID] = members
	}
	_, already := members[conn.ID()]
	members[conn.ID()] = conn
	s.mu.Unlock()

	v, _ := r.memberships.LoadOrStore(conn.ID(), &membership{rooms: make(map[string]struct{})})
	mem := v.(*membership)
	mem.mu.Lock()
	if mem.rooms == nil {
		// LeaveAll already ran for this connection.
		mem.mu.Unlock()
		r.removeFromRoom(conn.ID(), roomID)
		return false, ErrConnectionClosed
	}
	mem.rooms[roomID] = struct{}{}
	mem.mu.Unlock()

	return !already, nil
}

// LeaveAll removes the connection from every room it joined and returns
// those rooms. Nothing is broadcast.
func (r *Registry) LeaveAll(conn interfaces.Connection) []string {
	v, ok := r.memberships.LoadAndDelete(conn.ID())
	if !ok {
		return nil
	}
	mem := v.(*membership)
	mem.mu.Lock()
	rooms := make([]string, 0, len(mem.rooms))
	for roomID := range mem.rooms {
		rooms = append(rooms, roomID)
	}
	mem.rooms = nil
	mem.mu.Unlock()

	for _, roomID := range rooms {
		r.removeFromRoom(conn.ID(), roomID)
	}
	return rooms
}

func (r *Registry) removeFromRoom(connID, roomID string) {
	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
}

// Members returns a snapshot of the room's connections.
func (r *Registry) Members(roomID string) []interfaces.Connection {
	s := r.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.rooms[roomID]
	out := make([]interfaces.Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// IsMember reports whether the connection is in the room.
func (r *Registry) IsMember(conn interfaces.Connection, roomID string) bool {
	s := r.shard(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID][conn.ID()]
	return ok
}

// EmitToRoom delivers the event to every current member, the sender
// included when it is a member. Each delivery is independent: a full or
// closed connection is skipped and counted. Returns the number of
// connections the frame was queued for.
func (r *Registry) EmitToRoom(roomID string, ev types.OutboundEvent) (int, error) {
	frame, err := types.EncodeOutbound(ev)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, conn := range r.Members(roomID) {
		if err := conn.Send(frame); err != nil {
			r.metrics.DeliveryFailures.Inc()
			r.logger.Warn().Err(err).
				Str("room", roomID).
				Str("conn_id", conn.ID()).
				Str("user_id", conn.Identity().UserID).
				Msg("dropped room delivery")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// GetStats reports room and member counts.
func (r *Registry) GetStats() map[string]int {
	rooms, members := 0, 0
	for _, s := range r.shards {
		s.mu.RLock()
		rooms += len(s.rooms)
		for _, m := range s.rooms {
			members += len(m)
		}
		s.mu.RUnlock()
	}

	connections := 0
	r.memberships.Range(func(_, _ any) bool {
		connections++
		return true
	})

	return map[string]int{
		"rooms":                  rooms,
		"room_members":           members,
		"connections_with_rooms": connections,
	}
}
