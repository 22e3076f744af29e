// Package room runs the live side of a board: admitted connections, their
// per-board rooms and the per-user session index.
package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-room/actions"
	"board-room/domain"
)

// Credential is a verified bearer token.
type Credential struct {
	UserID    string
	ExpiresAt time.Time
}

// Verifier resolves a bearer token to a user.
type Verifier interface {
	Resolve(token string) (Credential, error)
}

// Storage is the read side of the persistence gateway a hub needs.
type Storage interface {
	Board(ctx context.Context, id string) (domain.Board, error)
	User(ctx context.Context, id string) (domain.User, error)
	UnassignFromBoard(ctx context.Context, boardID, userID string) ([]string, error)
}

// SnapshotSource loads the board state sent with the acknowledgement.
type SnapshotSource interface {
	Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Invalidator drops cached board state after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, boardID string)
}

// ActivityPublisher receives committed mutations. Publish must not block.
type ActivityPublisher interface {
	Publish(ctx context.Context, a domain.Activity) bool
}

type Options struct {
	Storage     Storage
	Snapshots   SnapshotSource
	Verifier    Verifier
	Registry    *actions.Registry
	Invalidator Invalidator
	Activity    ActivityPublisher
	Logger      *log.Logger

	HandshakeTimeout time.Duration
	ActionTimeout    time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

// RoomStats describes one live room.
type RoomStats struct {
	BoardID     string `json:"boardId"`
	Connections int    `json:"connections"`
}

var errShuttingDown = errors.New("hub is shutting down")

// Hub owns the room table and the session registry. Lock order is hub, then room.
type Hub struct {
	storage     Storage
	snapshots   SnapshotSource
	verifier    Verifier
	registry    *actions.Registry
	invalidator Invalidator
	activity    ActivityPublisher
	log         *log.Logger

	handshakeTimeout time.Duration
	actionTimeout    time.Duration
	writeTimeout     time.Duration
	sendBuffer       int

	mu       sync.Mutex
	rooms    map[string]*Room
	sessions *Sessions
	closed   bool
}

func NewHub(o Options) *Hub {
	h := &Hub{
		storage:          o.Storage,
		snapshots:        o.Snapshots,
		verifier:         o.Verifier,
		registry:         o.Registry,
		invalidator:      o.Invalidator,
		activity:         o.Activity,
		log:              o.Logger,
		handshakeTimeout: o.HandshakeTimeout,
		actionTimeout:    o.ActionTimeout,
		writeTimeout:     o.WriteTimeout,
		sendBuffer:       o.SendBuffer,
		rooms:            make(map[string]*Room),
		sessions:         NewSessions(),
	}
	if h.snapshots == nil {
		if s, ok := o.Storage.(SnapshotSource); ok {
			h.snapshots = s
		}
	}
	if h.registry == nil {
		h.registry = actions.NewRegistry()
	}
	if h.log == nil {
		h.log = log.StandardLogger()
	}
	if h.handshakeTimeout <= 0 {
		h.handshakeTimeout = 5 * time.Second
	}
	if h.actionTimeout <= 0 {
		h.actionTimeout = 10 * time.Second
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = 10 * time.Second
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 64
	}
	return h
}

// Room returns the live room of boardID.
func (h *Hub) Room(boardID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[boardID]
	return r, ok
}

// Rooms lists live rooms ordered by board id.
func (h *Hub) Rooms() []RoomStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomStats, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, RoomStats{BoardID: id, Connections: r.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoardID < out[j].BoardID })
	return out
}

// SessionCount returns how many live clients userID has across all rooms.
func (h *Hub) SessionCount(userID string) int {
	return h.sessions.Count(userID)
}

// SystemBroadcast sends a frame attributed to "system" to every member of the board's room.
func (h *Hub) SystemBroadcast(boardID, typ string, data any) int {
	r, ok := h.Room(boardID)
	if !ok {
		return 0
	}
	return r.BroadcastAll(domain.Outbound{Type: typ, Data: data, Sender: domain.SystemSender})
}

// SendToUser reaches every live client of userID regardless of room.
func (h *Hub) SendToUser(userID, typ string, data any) int {
	n := h.sessions.Send(userID, domain.Outbound{Type: typ, Data: data, Sender: domain.SystemSender}, nil)
	if n == 0 {
		h.log.WithField("user", userID).Debug("no live session to notify")
	}
	return n
}

// notify delivers an action notice to the user's clients outside boardID;
// clients in the room already received the broadcast.
func (h *Hub) notify(boardID string, n actions.Notice) int {
	msg := domain.Outbound{Type: n.Type, Data: n.Data, Sender: domain.SystemSender}
	return h.sessions.Send(n.UserID, msg, func(c *Client) bool { return c.BoardID != boardID })
}

func (h *Hub) invalidate(ctx context.Context, boardID string) {
	if h.invalidator != nil {
		h.invalidator.Invalidate(ctx, boardID)
	}
}

// CloseRoom removes the board's room and disconnects its members.
func (h *Hub) CloseRoom(boardID, reason string) int {
	h.mu.Lock()
	r, ok := h.rooms[boardID]
	if ok {
		delete(h.rooms, boardID)
	}
	h.mu.Unlock()
	if !ok {
		return 0
	}
	members := r.Close(reason)
	for _, c := range members {
		h.sessions.Remove(c)
	}
	h.log.WithFields(log.Fields{"board": boardID, "clients": len(members)}).Info("room closed")
	return len(members)
}

// Shutdown disconnects every client and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for id, r := range h.rooms {
		rooms = append(rooms, r)
		delete(h.rooms, id)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		n := r.closeWhere(func(*Client) bool { return true }, StatusGoingAway, "Server shutting down")
		h.log.WithFields(log.Fields{"board": r.boardID, "clients": n}).Debug("room drained")
	}
}

// join registers c in its board's room, creating the room if needed.
func (h *Hub) join(c *Client) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errShuttingDown
	}
	r, ok := h.rooms[c.BoardID]
	if !ok {
		r = newRoom(c.BoardID, h)
		h.rooms[c.BoardID] = r
		h.log.WithField("board", c.BoardID).Debug("room created")
	}
	r.Add(c)
	h.sessions.Add(c)
	return r, nil
}

// leave unregisters c and deletes its room once empty. The emptiness check
// runs even when a broadcast sweep already pruned c.
func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions.Remove(c)
	r, ok := h.rooms[c.BoardID]
	if !ok {
		return
	}
	if r.Remove(c) == 0 {
		delete(h.rooms, c.BoardID)
		h.log.WithField("board", c.BoardID).Debug("room removed")
	}
}

func (h *Hub) newClient(boardID string, user domain.User, role domain.Role, t Transport) *Client {
	id := uuid.NewString()
	entry := h.log.WithFields(log.Fields{"board": boardID, "user": user.ID, "conn": id, "role": role})
	return newClient(id, boardID, user, role, t, h.sendBuffer, h.writeTimeout, entry)
}
