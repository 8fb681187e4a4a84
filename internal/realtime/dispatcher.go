package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/kibaro-app/realtime/internal/database"
	"github.com/kibaro-app/realtime/internal/push"
	"github.com/kibaro-app/realtime/internal/stats"
	"github.com/kibaro-app/realtime/internal/types"
)

// retentionDays bounds how long backlog entries survive even under the
// per-user size cap.
const retentionDays = 30

const retentionSweepInterval = time.Hour

// Event is what resource producers hand to Publish. Exactly one of
// TargetUserId and TargetRoom is set.
type Event struct {
	Type         types.NotificationType
	Title        string
	Body         string
	Priority     types.Priority
	TargetUserId int64
	TargetRoom   string
}

// Dispatcher accepts notification events from producers, persists per-user
// backlogs and fans out to live connections, falling back to the push sink
// for users with no connection.
type Dispatcher struct {
	log      *log.Logger
	db       database.NotificationRepository
	reg      *Registry
	router   *Router
	push     push.Sink
	stats    stats.StatsProvider
	interval time.Duration
	pushWg   sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
}

func NewDispatcher(logger *log.Logger, db database.NotificationRepository, reg *Registry, router *Router, sink push.Sink, statsProvider stats.StatsProvider, statsInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		log:      logger,
		db:       db,
		reg:      reg,
		router:   router,
		push:     sink,
		stats:    statsProvider,
		interval: statsInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Publish routes one notification event, fire-and-forget: it never blocks
// on consumers and never surfaces delivery errors to the producer.
func (d *Dispatcher) Publish(ev Event) {
	if ev.Priority == "" {
		ev.Priority = types.PriorityNormal
	}

	switch {
	case ev.TargetUserId != 0:
		d.publishToUser(ev.TargetUserId, ev)
	case ev.TargetRoom != "":
		d.publishToRoom(ev)
	default:
		d.log.Printf("publish: event %q has no target", ev.Type)
	}
}

func (d *Dispatcher) publishToUser(userId int64, ev Event) {
	saved, err := d.db.AppendNotification(database.AppendNotificationParams{
		UserId:   userId,
		Type:     string(ev.Type),
		Title:    ev.Title,
		Body:     ev.Body,
		Priority: string(ev.Priority),
	})
	if err != nil {
		d.log.Printf("append notification for user %d: %v", userId, err)
		return
	}

	if !d.reg.IsConnected(userId) {
		d.stats.Incr(stats.PushFallbacks)
		payload := push.Payload{
			Title: ev.Title,
			Body:  ev.Body,
			Type:  ev.Type,
		}
		// the provider round-trip must not stall the producer
		d.pushWg.Add(1)
		go func() {
			defer d.pushWg.Done()
			if !d.push.Send(userId, payload) {
				d.log.Printf("push send failed for user %d", userId)
			}
		}()
		return
	}

	d.router.PublishToRoom(types.UserRoom(userId), NotificationFrame(toWireNotification(saved)))
	d.stats.Incr(stats.MessagesSent)
}

func (d *Dispatcher) publishToRoom(ev Event) {
	n := types.Notification{
		Type:      ev.Type,
		Title:     ev.Title,
		Body:      ev.Body,
		Priority:  ev.Priority,
		RoomKey:   ev.TargetRoom,
		CreatedAt: Now(),
	}
	d.router.PublishToRoom(ev.TargetRoom, NotificationFrame(n))
	d.stats.Incr(stats.MessagesSent)

	// offline subscribers get the notification in their backlog for replay
	// on the next handshake
	subscribers, err := d.db.SubscribersFor(ev.TargetRoom)
	if err != nil {
		d.log.Printf("subscribers for room %q: %v", ev.TargetRoom, err)
		return
	}

	for _, userId := range subscribers {
		if d.reg.IsConnected(userId) {
			continue
		}
		if _, err := d.db.AppendNotification(database.AppendNotificationParams{
			UserId:   userId,
			Type:     string(ev.Type),
			Title:    ev.Title,
			Body:     ev.Body,
			Priority: string(ev.Priority),
			RoomKey:  ev.TargetRoom,
		}); err != nil {
			d.log.Printf("append notification for offline user %d: %v", userId, err)
		}
	}
}

// BacklogFor returns the user's backlog, most recent first.
func (d *Dispatcher) BacklogFor(userId int64) ([]types.Notification, error) {
	rows, err := d.db.BacklogFor(userId, database.BacklogLimit)
	if err != nil {
		return nil, err
	}

	notifications := make([]types.Notification, len(rows))
	for i, row := range rows {
		notifications[i] = toWireNotification(row)
	}
	return notifications, nil
}

func (d *Dispatcher) MarkRead(userId, notificationId int64) error {
	return d.db.MarkRead(userId, notificationId)
}

func (d *Dispatcher) MarkAllRead(userId int64) error {
	return d.db.MarkAllRead(userId)
}

func (d *Dispatcher) SubscribeRooms(userId int64, roomKeys []string) error {
	if len(roomKeys) == 0 {
		return nil
	}
	return d.db.SubscribeRooms(userId, roomKeys)
}

func (d *Dispatcher) UnsubscribeRooms(userId int64, roomKeys []string) error {
	if len(roomKeys) == 0 {
		return nil
	}
	return d.db.UnsubscribeRooms(userId, roomKeys)
}

// Run starts the periodic stats broadcast and backlog retention sweep.
func (d *Dispatcher) Run() {
	go d.loop()
}

func (d *Dispatcher) loop() {
	statsTicker := time.NewTicker(d.interval)
	sweepTicker := time.NewTicker(retentionSweepInterval)
	defer statsTicker.Stop()
	defer sweepTicker.Stop()

	var lastSent int64
	lastTick := time.Now()

	for {
		select {
		case <-statsTicker.C:
			d.broadcastStats(&lastSent, &lastTick)
		case <-sweepTicker.C:
			n, err := d.db.DeleteExpiredNotifications(retentionDays)
			if err != nil {
				d.log.Println("retention sweep:", err)
			} else if n > 0 {
				d.log.Printf("retention sweep evicted %d notifications", n)
			}
		case <-d.stop:
			close(d.done)
			return
		}
	}
}

// broadcastStats publishes aggregate counters to the broadcast room. The
// channel is lossy; clients tolerate gaps.
func (d *Dispatcher) broadcastStats(lastSent *int64, lastTick *time.Time) {
	sent := d.stats.Get(stats.MessagesSent)
	now := time.Now()

	var rate float64
	if elapsed := now.Sub(*lastTick).Seconds(); elapsed > 0 {
		rate = float64(sent-*lastSent) / elapsed
	}
	*lastSent = sent
	*lastTick = now

	d.router.PublishToRoom(types.BroadcastRoom, ServerStatsFrame(types.ServerStats{
		ActiveConnections: int64(d.reg.NumConnections()),
		MessagesPerSec:    rate,
		DroppedFrames:     d.stats.Get(stats.DroppedFrames),
		Timestamp:         Now(),
	}))
}

func (d *Dispatcher) Shutdown() {
	close(d.stop)
	<-d.done
	d.pushWg.Wait()
}

func toWireNotification(row database.Notification) types.Notification {
	return types.Notification{
		Id:        row.Id,
		Type:      types.NotificationType(row.Type),
		Title:     row.Title,
		Body:      row.Body,
		Priority:  types.Priority(row.Priority),
		UserId:    row.UserId,
		RoomKey:   row.RoomKey,
		Read:      row.Read,
		CreatedAt: row.CreatedAt,
	}
}
