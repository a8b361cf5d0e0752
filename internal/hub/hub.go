// Package hub tracks the websocket sessions owned by this instance and
// fans replicated broadcast packets to them. Session state never leaves
// the instance; only packet delivery crosses the cluster.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifier/internal/events"
	"notifier/internal/metrics"
	"notifier/internal/state"
)

const (
	// sendBuffer is the per-session outbound queue. A session that falls
	// this far behind is closed rather than allowed to stall delivery.
	sendBuffer = 256

	writeWait = 10 * time.Second
)

// frame is the server→client wire shape.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// command is the client→server wire shape.
type command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// Session is one locally held connection and its room memberships.
type Session struct {
	ID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		ID:    uuid.New().String(),
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// JoinRoom adds a room to the session for future scoped delivery.
func (s *Session) JoinRoom(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// InRoom reports whether the session joined room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	_, ok := s.rooms[room]
	s.mu.Unlock()
	return ok
}

// enqueue offers msg to the session without ever blocking. It returns
// false when the session is gone or its buffer is full.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub is the instance-local connection registry.
type Hub struct {
	store    *state.Store
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a hub that serves snapshots from store.
func New(store *state.Store) *Hub {
	return &Hub{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers connect from arbitrary origins; auth is upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// ServeWS upgrades the request, registers the session, pushes the snapshot
// to that connection only, and services it until disconnect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := newSession(conn)
	h.register(session)

	// Late-join snapshot: current position of every known truck, sent to
	// this socket alone so the viewer need not wait for the next tick.
	if msg, err := marshalFrame(events.ChannelSnapshot, h.store.Snapshot()); err != nil {
		slog.Error("Failed to build snapshot frame", "session_id", session.ID, "error", err)
	} else {
		session.enqueue(msg)
	}

	go h.writeLoop(session)
	h.readLoop(session)
}

// Deliver fans packet to every matching local session. A session whose
// buffer is full is closed so one slow consumer cannot delay the rest.
func (h *Hub) Deliver(packet *events.BroadcastPacket) {
	msg, err := marshalFrame(packet.Channel, packet.Payload)
	if err != nil {
		slog.Error("Failed to build broadcast frame", "channel", packet.Channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if packet.Scope == events.ScopeRoom && !s.InRoom(packet.Room) {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(msg) {
			slog.Warn("Closing slow session", "session_id", s.ID)
			h.unregister(s)
		}
	}
	metrics.PacketDelivered(string(packet.Channel))
}

// SessionCount returns the number of locally held sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	metrics.SessionOpened()
	slog.Info("Session connected", "session_id", s.ID)
}

// unregister removes the session and signals its write loop. Debounce and
// entity state are untouched by connection churn.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	if ok {
		delete(h.sessions, s.ID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	metrics.SessionClosed()
	slog.Info("Session disconnected", "session_id", s.ID)
}

func (h *Hub) readLoop(s *Session) {
	defer func() {
		h.unregister(s)
		s.conn.Close()
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Warn("Ignoring malformed client command", "session_id", s.ID, "error", err)
			continue
		}
		switch cmd.Action {
		case "join-room":
			if cmd.Room == "" {
				slog.Warn("Ignoring join-room without a room", "session_id", s.ID)
				continue
			}
			s.JoinRoom(cmd.Room)
			slog.Info("Session joined room", "session_id", s.ID, "room", cmd.Room)
		default:
			slog.Warn("Ignoring unknown client command", "session_id", s.ID, "action", cmd.Action)
		}
	}
}

func (h *Hub) writeLoop(s *Session) {
	defer s.conn.Close()
	for {
		select {
		case <-s.done:
			// Drain anything already queued, then say goodbye.
			for {
				select {
				case msg := <-s.send:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
					return
				}
			}
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func marshalFrame(event events.Channel, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: string(event), Data: raw})
}
