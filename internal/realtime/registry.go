package realtime

import (
	"errors"
	"hash/fnv"
	"log"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/kibaro-app/realtime/internal/stats"
	"github.com/kibaro-app/realtime/internal/types"
)

var (
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
)

const numRoomShards = 16

// roomShard holds a slice of the room index. Sharding by room key keeps
// fan-out on one hot room from contending with join/leave traffic on others.
type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Registry tracks every live connection, its authenticated identity and its
// room memberships.
type Registry struct {
	log    *log.Logger
	stats  stats.StatsProvider
	shards [numRoomShards]*roomShard

	mu    sync.RWMutex // guards conns and users
	conns map[string]*Client
	users map[int64]map[*Client]struct{}
}

func NewRegistry(logger *log.Logger, statsProvider stats.StatsProvider) *Registry {
	reg := &Registry{
		log:   logger,
		stats: statsProvider,
		conns: make(map[string]*Client),
		users: make(map[int64]map[*Client]struct{}),
	}
	for i := range reg.shards {
		reg.shards[i] = &roomShard{rooms: make(map[string]map[*Client]struct{})}
	}

	return reg
}

// RegisterMetrics registers every counter the realtime server updates.
func RegisterMetrics(statsProvider stats.StatsProvider) {
	for _, name := range []string{
		stats.ActiveConnections,
		stats.MessagesSent,
		stats.DroppedFrames,
		stats.PushFallbacks,
		stats.AuthFailures,
	} {
		statsProvider.RegisterMetric(name)
	}
}

func (reg *Registry) shardFor(roomKey string) *roomShard {
	h := fnv.New32a()
	h.Write([]byte(roomKey))
	return reg.shards[h.Sum32()%numRoomShards]
}

// Register admits a new transport-level connection in an unauthenticated
// state and returns its connection id.
func (reg *Registry) Register(c *Client) string {
	id := shortid.MustGenerate()
	c.id = id

	reg.mu.Lock()
	reg.conns[id] = c
	reg.mu.Unlock()

	reg.stats.Incr(stats.ActiveConnections)
	reg.log.Printf("registered connection %q", id)
	return id
}

// Authenticate binds a user identity to a connection. The connection is
// auto-joined to its user room (multi-device fan-out) and the broadcast
// room (stats traffic).
func (reg *Registry) Authenticate(connId string, userId int64) error {
	reg.mu.Lock()
	c, ok := reg.conns[connId]
	if !ok {
		reg.mu.Unlock()
		return ErrUnknownConnection
	}
	if c.UserId() != 0 {
		reg.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	c.setUserId(userId)
	if reg.users[userId] == nil {
		reg.users[userId] = make(map[*Client]struct{})
	}
	reg.users[userId][c] = struct{}{}
	reg.mu.Unlock()

	reg.joinRoomClient(c, types.UserRoom(userId))
	reg.joinRoomClient(c, types.BroadcastRoom)

	reg.log.Printf("connection %q authenticated as user %d", connId, userId)
	return nil
}

func (reg *Registry) connection(connId string) (*Client, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.conns[connId]
	return c, ok
}

// JoinRoom is idempotent: joining a room the connection is already in is a
// no-op.
func (reg *Registry) JoinRoom(connId, roomKey string) error {
	c, ok := reg.connection(connId)
	if !ok {
		return ErrUnknownConnection
	}

	reg.joinRoomClient(c, roomKey)
	return nil
}

func (reg *Registry) joinRoomClient(c *Client, roomKey string) {
	sh := reg.shardFor(roomKey)
	sh.mu.Lock()
	if sh.rooms[roomKey] == nil {
		sh.rooms[roomKey] = make(map[*Client]struct{})
	}
	sh.rooms[roomKey][c] = struct{}{}
	sh.mu.Unlock()

	c.addRoom(roomKey)
}

// LeaveRoom is idempotent: leaving a room the connection is not in is a
// no-op.
func (reg *Registry) LeaveRoom(connId, roomKey string) error {
	c, ok := reg.connection(connId)
	if !ok {
		return ErrUnknownConnection
	}

	reg.leaveRoomClient(c, roomKey)
	return nil
}

func (reg *Registry) leaveRoomClient(c *Client, roomKey string) {
	sh := reg.shardFor(roomKey)
	sh.mu.Lock()
	if members, ok := sh.rooms[roomKey]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(sh.rooms, roomKey)
		}
	}
	sh.mu.Unlock()

	c.delRoom(roomKey)
}

// Deregister removes a connection from every room it joined and stops
// further enqueues to it. A concurrent fan-out either observes the
// connection in the room index or does not; there is no half-removed state
// because membership per room is removed under that room's shard lock.
func (reg *Registry) Deregister(connId string) {
	reg.mu.Lock()
	c, ok := reg.conns[connId]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.conns, connId)
	if userId := c.UserId(); userId != 0 {
		if userConns, ok := reg.users[userId]; ok {
			delete(userConns, c)
			if len(userConns) == 0 {
				delete(reg.users, userId)
			}
		}
	}
	reg.mu.Unlock()

	c.closeEnqueue()

	for _, roomKey := range c.roomKeys() {
		reg.leaveRoomClient(c, roomKey)
	}

	reg.stats.Decr(stats.ActiveConnections)
	reg.log.Printf("deregistered connection %q", connId)
}

// ConnectionsFor returns every live connection authenticated as userId.
func (reg *Registry) ConnectionsFor(userId int64) []*Client {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conns := make([]*Client, 0, len(reg.users[userId]))
	for c := range reg.users[userId] {
		conns = append(conns, c)
	}
	return conns
}

// IsConnected reports whether the user holds at least one live connection.
func (reg *Registry) IsConnected(userId int64) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.users[userId]) > 0
}

func (reg *Registry) NumConnections() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.conns)
}
