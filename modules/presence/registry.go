package presence

import (
	"errors"
	"sync"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

// ErrDuplicateJoin is returned when a connection that already has a session
// tries to register again.
var ErrDuplicateJoin = errors.New("connection already joined a room")

// RoomInfo describes a live room.
type RoomInfo struct {
	Name    string `json:"nombre"`
	Members int    `json:"usuarios"`
}

// Registry is the authoritative store of sessions, room membership and
// private chat bindings. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*domain.Session
	// rooms keeps member connections in join order.
	rooms    map[string][]domain.ConnectionID
	bindings map[int64]domain.ConnectionID
	// bound is the reverse of bindings: the users each connection serves.
	bound map[domain.ConnectionID]map[int64]struct{}
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ConnectionID]*domain.Session),
		rooms:    make(map[string][]domain.ConnectionID),
		bindings: make(map[int64]domain.ConnectionID),
		bound:    make(map[domain.ConnectionID]map[int64]struct{}),
		now:      time.Now,
	}
}

// Register creates a session for conn in room.
func (r *Registry) Register(conn domain.ConnectionID, displayName, room string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[conn]; ok {
		return domain.Session{}, ErrDuplicateJoin
	}

	s := &domain.Session{
		ConnectionID: conn,
		DisplayName:  displayName,
		Room:         room,
		JoinedAt:     r.now().UTC(),
	}
	r.sessions[conn] = s
	r.rooms[room] = append(r.rooms[room], conn)
	return *s, nil
}

// Unregister removes the session of conn and returns it. It reports false
// when conn had no session.
func (r *Registry) Unregister(conn domain.ConnectionID) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[conn]
	if !ok {
		return domain.Session{}, false
	}
	delete(r.sessions, conn)
	r.removeMember(s.Room, conn)
	return *s, true
}

func (r *Registry) removeMember(room string, conn domain.ConnectionID) {
	members := r.rooms[room]
	for i, id := range members {
		if id == conn {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(r.rooms, room)
		return
	}
	r.rooms[room] = members
}

// Session returns the session of conn, if any.
func (r *Registry) Session(conn domain.ConnectionID) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[conn]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// BindPrivate points userID at conn, replacing any earlier binding.
func (r *Registry) BindPrivate(userID int64, conn domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bindings[userID]; ok {
		if prev == conn {
			return
		}
		r.dropBound(prev, userID)
	}
	r.bindings[userID] = conn
	users, ok := r.bound[conn]
	if !ok {
		users = make(map[int64]struct{})
		r.bound[conn] = users
	}
	users[userID] = struct{}{}
}

func (r *Registry) dropBound(conn domain.ConnectionID, userID int64) {
	users := r.bound[conn]
	delete(users, userID)
	if len(users) == 0 {
		delete(r.bound, conn)
	}
}

// LookupPrivate returns the connection bound to userID.
func (r *Registry) LookupPrivate(userID int64) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.bindings[userID]
	return conn, ok
}

// UnbindConnection drops every private binding that points at conn and
// returns the affected user ids.
func (r *Registry) UnbindConnection(conn domain.ConnectionID) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	bound := r.bound[conn]
	if len(bound) == 0 {
		return nil
	}
	delete(r.bound, conn)

	users := make([]int64, 0, len(bound))
	for userID := range bound {
		delete(r.bindings, userID)
		users = append(users, userID)
	}
	return users
}

// MembersOf returns the display names in room in join order.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	names := make([]string, 0, len(members))
	for _, conn := range members {
		names = append(names, r.sessions[conn].DisplayName)
	}
	return names
}

// ConnectionsOf returns the connections in room in join order.
func (r *Registry) ConnectionsOf(room string) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ConnectionID, len(r.rooms[room]))
	copy(out, r.rooms[room])
	return out
}

// SessionsOf returns the sessions in room in join order.
func (r *Registry) SessionsOf(room string) []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]domain.Session, 0, len(members))
	for _, conn := range members {
		out = append(out, *r.sessions[conn])
	}
	return out
}

// Rooms lists the live rooms. Order is unspecified.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(r.rooms))
	for name, members := range r.rooms {
		rooms = append(rooms, RoomInfo{Name: name, Members: len(members)})
	}
	return rooms
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BindingCount returns the number of private bindings.
func (r *Registry) BindingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Reset drops all sessions and bindings.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[domain.ConnectionID]*domain.Session)
	r.rooms = make(map[string][]domain.ConnectionID)
	r.bindings = make(map[int64]domain.ConnectionID)
	r.bound = make(map[domain.ConnectionID]map[int64]struct{})
}
