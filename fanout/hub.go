package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type HubConfig struct {
	// BufferSize is the outbound queue per session; frames are dropped when it is full.
	BufferSize   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

var ErrHubClosed = errors.New("fanout hub closed")

type session struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	rooms map[string]bool
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub keeps the websocket sessions of the central node and their room memberships.
type Hub struct {
	config   HubConfig
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]*session
	nextID   uint64
	closed   bool
}

func NewHub(cfg HubConfig, logger *logrus.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
}

// Publish delivers an event to the local sessions of room.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) error {
	f, err := eventFrame(room, event, payload)
	if err != nil {
		return err
	}
	h.Deliver(f)
	return nil
}

// Deliver queues f on every session in f.Room and returns how many sessions got it.
func (h *Hub) Deliver(f Frame) int {
	f.Origin = ""
	msg, err := json.Marshal(f)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, s := range h.rooms[f.Room] {
		select {
		case s.send <- msg:
			n++
		default:
			h.logger.WithFields(logrus.Fields{
				"field":   "FanoutHub",
				"session": s.id,
				"room":    f.Room,
			}).Warn("session buffer full; dropping event")
		}
	}
	return n
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Serve upgrades the request and runs the session until the client disconnects.
// The session starts in rooms and may join more with subscribe frames.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, rooms []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	s, err := h.register(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		return err
	}
	defer h.unregister(s)

	for _, room := range rooms {
		h.join(s, room)
	}

	go h.readLoop(s)
	h.writeLoop(s)
	return nil
}

func (h *Hub) register(conn *websocket.Conn) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	s := &session{
		id:    fmt.Sprintf("ws-%d", h.nextID),
		conn:  conn,
		send:  make(chan []byte, h.config.BufferSize),
		done:  make(chan struct{}),
		rooms: make(map[string]bool),
	}
	h.sessions[s.id] = s
	return s, nil
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) join(s *session, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*session)
		h.rooms[room] = members
	}
	members[s.id] = s
	s.rooms[room] = true
	h.mu.Unlock()
	h.sendFrame(s, Frame{Type: FrameSubscribed, Room: room})
}

func (h *Hub) leave(s *session, room string) {
	h.mu.Lock()
	h.leaveLocked(s, room)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(s *session, room string) {
	delete(s.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, s.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) sendFrame(s *session, f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}

func (h *Hub) readLoop(s *session) {
	defer s.close()
	readWait := h.config.PingInterval * 2
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			h.sendFrame(s, Frame{Type: FrameError, Error: "invalid message format"})
			continue
		}
		switch f.Type {
		case FrameSubscribe:
			h.join(s, f.Room)
		case FrameUnsubscribe:
			h.leave(s, f.Room)
		default:
			h.sendFrame(s, Frame{Type: FrameError, Error: "unknown command: " + f.Type})
		}
	}
}

func (h *Hub) writeLoop(s *session) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
