package realtime

import (
	"encoding/json"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kibaro-app/realtime/internal/auth"
	"github.com/kibaro-app/realtime/internal/stats"
	"github.com/kibaro-app/realtime/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	// maxAuthAttempts bounds handshake retries before the server closes the
	// transport.
	maxAuthAttempts = 3
)

// Client is one transport-level connection. It starts unauthenticated; only
// authenticate frames are honored until the handshake completes.
type Client struct {
	conn       *websocket.Conn
	id         string
	reg        *Registry
	dispatcher *Dispatcher
	verifier   auth.TokenVerifier
	log        *log.Logger
	stats      stats.StatsProvider

	send chan *types.ServerFrame
	stop chan struct{}

	userId       atomic.Int64
	closed       atomic.Bool
	lastActivity atomic.Int64

	// authAttempts is touched only by the read pump.
	authAttempts int

	roomsMu  sync.Mutex
	rooms    map[string]struct{}
	geoRooms []string
}

func NewClient(conn *websocket.Conn, reg *Registry, d *Dispatcher, verifier auth.TokenVerifier, logger *log.Logger, statsProvider stats.StatsProvider) *Client {
	c := &Client{
		conn:       conn,
		reg:        reg,
		dispatcher: d,
		verifier:   verifier,
		log:        logger,
		stats:      statsProvider,
		send:       make(chan *types.ServerFrame, sendBufferSize),
		stop:       make(chan struct{}),
		rooms:      make(map[string]struct{}),
	}
	c.touch()
	return c
}

// Id returns the registry-assigned connection id.
func (c *Client) Id() string {
	return c.id
}

// UserId returns the authenticated user id, or zero before the handshake
// completes.
func (c *Client) UserId() int64 {
	return c.userId.Load()
}

func (c *Client) setUserId(userId int64) {
	c.userId.Store(userId)
}

// LastActivity reports when the connection last received a frame.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for connection %q", c.id)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeFrame(frame)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for connection %q", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.touch()

		var frame types.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Println("error parsing frame:", err)
			c.queueFrame(ErrInvalidFrame())
			continue
		}

		if !c.handleFrame(&frame) {
			break
		}
	}
}

// handleFrame dispatches one inbound frame. A false return tells the read
// pump to close the transport (handshake retries exhausted).
func (c *Client) handleFrame(frame *types.ClientFrame) bool {
	if c.UserId() == 0 && frame.Event != types.EventAuthenticate {
		c.queueFrame(ErrNotAuthenticated())
		return true
	}

	switch frame.Event {
	case types.EventAuthenticate:
		return c.handleAuthenticate(frame.Data)
	case types.EventJoinRooms:
		var keys []string
		if err := json.Unmarshal(frame.Data, &keys); err != nil {
			c.queueFrame(ErrInvalidFrame())
			return true
		}
		c.handleJoinRooms(keys)
	case types.EventLeaveRooms:
		var keys []string
		if err := json.Unmarshal(frame.Data, &keys); err != nil {
			c.queueFrame(ErrInvalidFrame())
			return true
		}
		c.handleLeaveRooms(keys)
	case types.EventUpdateLocation:
		var loc types.Location
		if err := json.Unmarshal(frame.Data, &loc); err != nil {
			c.queueFrame(ErrInvalidFrame())
			return true
		}
		c.handleUpdateLocation(loc)
	case types.EventMarkRead:
		var id int64
		if err := json.Unmarshal(frame.Data, &id); err != nil {
			c.queueFrame(ErrInvalidFrame())
			return true
		}
		if err := c.dispatcher.MarkRead(c.UserId(), id); err != nil {
			c.log.Printf("mark read %d for user %d: %v", id, c.UserId(), err)
		}
	case types.EventMarkAllRead:
		if err := c.dispatcher.MarkAllRead(c.UserId()); err != nil {
			c.log.Printf("mark all read for user %d: %v", c.UserId(), err)
		}
	default:
		c.queueFrame(ErrInvalidFrame())
	}
	return true
}

func (c *Client) handleAuthenticate(data json.RawMessage) bool {
	if c.UserId() != 0 {
		c.queueFrame(ErrAlreadyAuthenticatedFrame())
		return true
	}

	var payload types.AuthPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return c.failAuth()
	}

	userId, err := c.verifier.Verify(payload.Token)
	if err != nil || userId != payload.UserId {
		return c.failAuth()
	}

	if err := c.reg.Authenticate(c.id, userId); err != nil {
		c.log.Printf("authenticate connection %q: %v", c.id, err)
		c.queueFrame(ErrInternalError())
		return true
	}

	// replay the backlog, oldest first within the cap, as a single frame
	backlog, err := c.dispatcher.BacklogFor(userId)
	if err != nil {
		c.log.Printf("backlog replay for user %d: %v", userId, err)
		backlog = nil
	}
	slices.Reverse(backlog)
	c.queueFrame(UnreadNotificationsFrame(backlog))
	return true
}

func (c *Client) failAuth() bool {
	c.authAttempts++
	c.stats.Incr(stats.AuthFailures)
	c.queueFrame(ErrAuthFailed())
	if c.authAttempts >= maxAuthAttempts {
		c.log.Printf("connection %q exceeded auth attempts, closing", c.id)
		return false
	}
	return true
}

func (c *Client) handleJoinRooms(keys []string) {
	for _, key := range keys {
		if err := c.reg.JoinRoom(c.id, key); err != nil {
			c.log.Printf("join room %q: %v", key, err)
		}
	}

	if err := c.dispatcher.SubscribeRooms(c.UserId(), keys); err != nil {
		c.log.Printf("subscribe rooms for user %d: %v", c.UserId(), err)
	}
}

func (c *Client) handleLeaveRooms(keys []string) {
	for _, key := range keys {
		if err := c.reg.LeaveRoom(c.id, key); err != nil {
			c.log.Printf("leave room %q: %v", key, err)
		}
	}

	if err := c.dispatcher.UnsubscribeRooms(c.UserId(), keys); err != nil {
		c.log.Printf("unsubscribe rooms for user %d: %v", c.UserId(), err)
	}
}

// handleUpdateLocation re-derives geographic room membership: rooms for the
// previous location that are not part of the new one are left.
func (c *Client) handleUpdateLocation(loc types.Location) {
	newKeys := loc.RoomKeys()

	c.roomsMu.Lock()
	oldKeys := c.geoRooms
	c.geoRooms = newKeys
	c.roomsMu.Unlock()

	var stale []string
	for _, key := range oldKeys {
		if !slices.Contains(newKeys, key) {
			stale = append(stale, key)
		}
	}

	if len(stale) > 0 {
		c.handleLeaveRooms(stale)
	}
	c.handleJoinRooms(newKeys)
}

// queueFrame enqueues a frame for the write pump without blocking. It
// reports false if the buffer is full or the connection is being torn down.
func (c *Client) queueFrame(frame *types.ServerFrame) bool {
	if c.closed.Load() {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeEnqueue stops further frames from being accepted. Frames already
// buffered are not guaranteed to flush before the socket closes.
func (c *Client) closeEnqueue() {
	c.closed.Store(true)
}

func serializeFrame(frame *types.ServerFrame) ([]byte, error) {
	return json.Marshal(frame)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	close(c.stop)
}

func (c *Client) cleanup() {
	c.reg.Deregister(c.id)
	c.stopClient()
}

func (c *Client) addRoom(roomKey string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[roomKey] = struct{}{}
}

func (c *Client) delRoom(roomKey string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, roomKey)
}

func (c *Client) roomKeys() []string {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	keys := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	return keys
}
