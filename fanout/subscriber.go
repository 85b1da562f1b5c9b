package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// TokenSource returns the bearer credential used to dial the central node.
type TokenSource func() (string, error)

// Subscriber is the edge websocket client. It keeps one connection to the central hub
// and re-subscribes its rooms after every reconnect.
// Events are queued and handled in arrival order by one worker, so the read loop keeps
// answering pings while a handler is slow. When the queue is full, events are dropped.
type Subscriber struct {
	endpoint   string
	token      TokenSource
	dialer     *websocket.Dialer
	logger     *logrus.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	handlers map[string][]Handler
	conn     *websocket.Conn
	writeMu  sync.Mutex
	wake     chan struct{}
	events   chan Frame
}

// NewSubscriber dials <baseURL>/sync/ws; http(s) schemes are mapped to ws(s).
func NewSubscriber(baseURL string, token TokenSource, logger *logrus.Logger) (*Subscriber, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/sync/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errors.New("unsupported central url scheme: " + u.Scheme)
	}
	return &Subscriber{
		endpoint:   u.String(),
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		handlers:   make(map[string][]Handler),
		wake:       make(chan struct{}, 1),
		events:     make(chan Frame, 256),
	}, nil
}

// Subscribe registers handler for room and joins it on the live connection, if any.
func (s *Subscriber) Subscribe(room string, handler Handler) error {
	if room == "" || handler == nil {
		return errors.New("room and handler are required")
	}
	s.mu.Lock()
	s.handlers[room] = append(s.handlers[room], handler)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.write(conn, Frame{Type: FrameSubscribe, Room: room}); err != nil {
			// The read loop notices the broken connection and reconnects with every room.
			s.logger.WithField("field", "FanoutSubscriber").Warn("subscribe on live connection failed: " + err.Error())
		}
	}
	s.poke()
	return nil
}

func (s *Subscriber) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handlers))
	for room := range s.handlers {
		out = append(out, room)
	}
	return out
}

// Run keeps the connection alive until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.handleEvents(ctx)
	}()
	defer wg.Wait()

	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil, errors.Is(err, errNothingToDo):
			backoff = s.minBackoff
			err = nil
		default:
			s.logger.WithField("field", "FanoutSubscriber").Warn("fanout connection lost: " + err.Error())
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(backoff):
		}
		if err != nil {
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}
	}
}

var errNothingToDo = errors.New("no rooms or credential yet")

func (s *Subscriber) session(ctx context.Context) error {
	rooms := s.rooms()
	if len(rooms) == 0 {
		return nil
	}
	token, err := s.token()
	if err != nil || token == "" {
		return errNothingToDo
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, header)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	for _, room := range rooms {
		if err := s.write(conn, Frame{Type: FrameSubscribe, Room: room}); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		switch f.Type {
		case FrameEvent:
			s.enqueue(f)
		case FrameError:
			s.logger.WithField("field", "FanoutSubscriber").Warn("central rejected frame: " + f.Error)
		}
	}
}

func (s *Subscriber) enqueue(f Frame) {
	select {
	case s.events <- f:
	default:
		s.logger.WithFields(logrus.Fields{
			"field": "FanoutSubscriber",
			"room":  f.Room,
			"event": f.Event,
		}).Warn("event queue full; dropping event")
	}
}

func (s *Subscriber) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.events:
			s.dispatch(ctx, f)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, f Frame) {
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[f.Room]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ctx, f.Event, f.Payload)
	}
}

func (s *Subscriber) write(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
