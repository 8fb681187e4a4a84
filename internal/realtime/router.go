package realtime

import (
	"log"

	"github.com/kibaro-app/realtime/internal/stats"
	"github.com/kibaro-app/realtime/internal/types"
)

// Router fans a frame out to every connection joined to a room.
type Router struct {
	reg   *Registry
	log   *log.Logger
	stats stats.StatsProvider
}

func NewRouter(reg *Registry, logger *log.Logger, statsProvider stats.StatsProvider) *Router {
	return &Router{
		reg:   reg,
		log:   logger,
		stats: statsProvider,
	}
}

// PublishToRoom enqueues frame on the outbound buffer of every connection
// joined to roomKey at call time. Membership is snapshotted under the room
// shard's read lock; enqueue is non-blocking, so holding the lock never
// waits on a slow consumer. A connection with a full buffer drops the frame
// and the drop counter increments. Returns the number of connections the
// frame was enqueued for.
func (rt *Router) PublishToRoom(roomKey string, frame *types.ServerFrame) int {
	sh := rt.reg.shardFor(roomKey)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var delivered int
	for c := range sh.rooms[roomKey] {
		if c.queueFrame(frame) {
			delivered++
		} else {
			rt.stats.Incr(stats.DroppedFrames)
			rt.log.Printf("dropped frame for connection %q in room %q", c.id, roomKey)
		}
	}
	return delivered
}
