package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kibaro-app/realtime/internal/types"
)

// ConnState is the lifecycle of a session. StateDisconnected is terminal:
// a session that gave up reconnecting or was told to disconnect never
// dials again.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const (
	defaultInitialReconnectDelay = time.Second
	defaultMaxReconnectDelay     = 5 * time.Second
	defaultMaxReconnectAttempts  = 5
)

var errNotConnected = errors.New("not connected")

type Config struct {
	URL    string
	UserId int64
	Token  string

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int

	Logger *log.Logger
}

// Session maintains one authenticated connection to the realtime server,
// reconnecting with exponential backoff and replaying room membership and
// location after every successful handshake.
type Session struct {
	cfg Config
	log *log.Logger

	state  atomic.Int32
	st     *State
	events *emitter

	connMu sync.Mutex
	conn   *websocket.Conn

	roomsMu        sync.Mutex
	requestedRooms map[string]struct{}
	location       *types.Location

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if cfg.UserId == 0 || cfg.Token == "" {
		return nil, fmt.Errorf("credentials cannot be empty")
	}

	if cfg.InitialReconnectDelay <= 0 {
		cfg.InitialReconnectDelay = defaultInitialReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Session{
		cfg:            cfg,
		log:            cfg.Logger,
		st:             NewState(),
		events:         newEmitter(),
		requestedRooms: make(map[string]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() ConnState {
	return ConnState(s.state.Load())
}

// Notifications returns the local reconciliation state, most recent first.
func (s *Session) Notifications() []types.Notification {
	return s.st.Notifications()
}

func (s *Session) UnreadCount() int {
	return s.st.UnreadCount()
}

// Subscribe registers for session events. The returned cancel func must be
// called when done. Delivery is lossy under a slow consumer.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Start launches the connection loop. Call Disconnect to stop it.
func (s *Session) Start() {
	s.started.Store(true)
	go s.run()
}

// Disconnect terminates the session, closes the transport and clears local
// state. It blocks until the connection loop has exited.
func (s *Session) Disconnect() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	if s.started.Load() {
		<-s.done
	} else {
		s.transition(StateDisconnected)
	}
	s.st.Clear()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.transition(StateDisconnected)

	attempt := 0
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.transition(StateConnecting)
		conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, nil)
		if err != nil {
			s.log.Printf("dial %s: %v", s.cfg.URL, err)
			attempt++
			if attempt >= s.cfg.MaxReconnectAttempts {
				s.log.Printf("giving up after %d attempts", attempt)
				return
			}
			if !s.wait(backoffDelay(attempt, s.cfg.InitialReconnectDelay, s.cfg.MaxReconnectDelay)) {
				return
			}
			continue
		}

		s.setConn(conn)
		s.transition(StateConnected)

		if err := s.writeFrame(types.EventAuthenticate, types.AuthPayload{
			UserId: s.cfg.UserId,
			Token:  s.cfg.Token,
		}); err != nil {
			s.log.Printf("send authenticate: %v", err)
		}

		authed := s.readLoop(conn)
		s.setConn(nil)
		conn.Close()

		select {
		case <-s.stop:
			return
		default:
		}

		// the transport is gone; commands are no-ops again until the next
		// handshake completes
		s.transition(StateConnecting)

		if authed {
			attempt = 0
		} else {
			attempt++
		}
		if attempt >= s.cfg.MaxReconnectAttempts {
			s.log.Printf("giving up after %d attempts", attempt)
			return
		}

		delay := s.cfg.InitialReconnectDelay
		if attempt > 0 {
			delay = backoffDelay(attempt, s.cfg.InitialReconnectDelay, s.cfg.MaxReconnectDelay)
		}
		if !s.wait(delay) {
			return
		}
	}
}

// readLoop consumes frames until the transport fails. It reports whether
// the handshake completed on this connection, which resets the reconnect
// attempt counter.
func (s *Session) readLoop(conn *websocket.Conn) bool {
	authed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Printf("read: %v", err)
			}
			return authed
		}

		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Printf("parse frame: %v", err)
			continue
		}

		switch frame.Event {
		case types.EventUnreadNotifications:
			var payload types.UnreadNotificationsPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				s.log.Printf("parse backlog: %v", err)
				continue
			}
			s.st.Replace(payload.Data)
			s.transition(StateAuthenticated)
			s.restoreRooms()
			authed = true
		case types.EventNotification:
			var n types.Notification
			if err := json.Unmarshal(frame.Data, &n); err != nil {
				s.log.Printf("parse notification: %v", err)
				continue
			}
			s.st.Insert(n)
			s.events.emit(Event{Kind: EventNotification, Notification: n})
		case types.EventServerStats:
			var stats types.ServerStats
			if err := json.Unmarshal(frame.Data, &stats); err != nil {
				s.log.Printf("parse server stats: %v", err)
				continue
			}
			s.events.emit(Event{Kind: EventServerStats, Stats: stats})
		case types.EventError:
			var payload types.ErrorPayload
			if err := json.Unmarshal(frame.Data, &payload); err == nil {
				s.log.Printf("server error %d: %s", payload.Code, payload.Message)
			}
		default:
			s.log.Printf("unknown frame %q", frame.Event)
		}
	}
}

// restoreRooms replays requested room membership and the last reported
// location after a handshake, so a reconnect is transparent to the
// application.
func (s *Session) restoreRooms() {
	s.roomsMu.Lock()
	rooms := make([]string, 0, len(s.requestedRooms))
	for key := range s.requestedRooms {
		rooms = append(rooms, key)
	}
	loc := s.location
	s.roomsMu.Unlock()

	if len(rooms) > 0 {
		if err := s.writeFrame(types.EventJoinRooms, rooms); err != nil {
			s.log.Printf("rejoin rooms: %v", err)
		}
	}
	if loc != nil {
		if err := s.writeFrame(types.EventUpdateLocation, *loc); err != nil {
			s.log.Printf("resend location: %v", err)
		}
	}
}

// JoinRooms subscribes to rooms. A no-op unless the session is
// authenticated.
func (s *Session) JoinRooms(roomKeys ...string) {
	if s.State() != StateAuthenticated || len(roomKeys) == 0 {
		return
	}

	s.roomsMu.Lock()
	for _, key := range roomKeys {
		s.requestedRooms[key] = struct{}{}
	}
	s.roomsMu.Unlock()

	if err := s.writeFrame(types.EventJoinRooms, roomKeys); err != nil {
		s.log.Printf("join rooms: %v", err)
	}
}

// LeaveRooms unsubscribes from rooms. A no-op unless the session is
// authenticated.
func (s *Session) LeaveRooms(roomKeys ...string) {
	if s.State() != StateAuthenticated || len(roomKeys) == 0 {
		return
	}

	s.roomsMu.Lock()
	for _, key := range roomKeys {
		delete(s.requestedRooms, key)
	}
	s.roomsMu.Unlock()

	if err := s.writeFrame(types.EventLeaveRooms, roomKeys); err != nil {
		s.log.Printf("leave rooms: %v", err)
	}
}

// UpdateLocation reports a new geographic position. A no-op unless the
// session is authenticated.
func (s *Session) UpdateLocation(loc types.Location) {
	if s.State() != StateAuthenticated {
		return
	}

	s.roomsMu.Lock()
	s.location = &loc
	s.roomsMu.Unlock()

	if err := s.writeFrame(types.EventUpdateLocation, loc); err != nil {
		s.log.Printf("update location: %v", err)
	}
}

// MarkAsRead flags a notification read locally and on the server. A no-op
// unless the session is authenticated.
func (s *Session) MarkAsRead(notificationId int64) {
	if s.State() != StateAuthenticated {
		return
	}

	s.st.MarkRead(notificationId)
	if err := s.writeFrame(types.EventMarkRead, notificationId); err != nil {
		s.log.Printf("mark read: %v", err)
	}
}

// MarkAllAsRead flags every notification read locally and on the server. A
// no-op unless the session is authenticated.
func (s *Session) MarkAllAsRead() {
	if s.State() != StateAuthenticated {
		return
	}

	s.st.MarkAllRead()
	if err := s.writeFrame(types.EventMarkAllRead, nil); err != nil {
		s.log.Printf("mark all read: %v", err)
	}
}

func (s *Session) writeFrame(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}
	return s.conn.WriteJSON(types.ClientFrame{Event: event, Data: raw})
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) transition(state ConnState) {
	if ConnState(s.state.Swap(int32(state))) == state {
		return
	}
	s.events.emit(Event{Kind: EventStateChanged, State: state})
}

// wait sleeps for the backoff delay, returning false if the session was
// told to disconnect in the meantime.
func (s *Session) wait(d time.Duration) bool {
	select {
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay doubles the initial delay per consecutive failed attempt,
// capped at max.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := initial << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
