package types

import (
	"strconv"
	"time"
)

// NotificationType identifies the producer action that generated a notification.
type NotificationType string

const (
	TypeNewPost     NotificationType = "new_post"
	TypeNewComment  NotificationType = "new_comment"
	TypeNewLike     NotificationType = "new_like"
	TypeNewAlert    NotificationType = "new_alert"
	TypeNewEvent    NotificationType = "new_event"
	TypeHelpRequest NotificationType = "help_request"
	TypeModeration  NotificationType = "moderation"
	TypeSystem      NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeNewPost, TypeNewComment, TypeNewLike, TypeNewAlert,
		TypeNewEvent, TypeHelpRequest, TypeModeration, TypeSystem:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Notification is the wire representation of a single notification.
// Id is a server-assigned monotonic sequence number, so ordering by Id is
// deterministic regardless of clock skew between producers.
type Notification struct {
	Id        int64            `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Priority  Priority         `json:"priority"`
	UserId    int64            `json:"user_id,omitempty"`
	RoomKey   string           `json:"room_key,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// Location is the geographic position a client reports; each level maps
// to a room the client is joined to.
type Location struct {
	Region   string `json:"region"`
	Commune  string `json:"commune"`
	Quartier string `json:"quartier"`
}

// RoomKeys derives the geographic room keys for a location, skipping
// empty levels.
func (l Location) RoomKeys() []string {
	var keys []string
	if l.Region != "" {
		keys = append(keys, "region:"+l.Region)
	}
	if l.Commune != "" {
		keys = append(keys, "commune:"+l.Commune)
	}
	if l.Quartier != "" {
		keys = append(keys, "quartier:"+l.Quartier)
	}
	return keys
}

// BroadcastRoom is joined implicitly by every authenticated connection and
// carries lossy server-wide traffic such as periodic stats.
const BroadcastRoom = "broadcast:all"

// UserRoom is the per-user room used for multi-device fan-out of
// notifications targeted at a single user.
func UserRoom(userId int64) string {
	return "user:" + strconv.FormatInt(userId, 10)
}

// ServerStats is the payload of the periodic server_stats broadcast.
type ServerStats struct {
	ActiveConnections int64     `json:"active_connections"`
	MessagesPerSec    float64   `json:"messages_per_sec"`
	DroppedFrames     int64     `json:"dropped_frames"`
	Timestamp         time.Time `json:"timestamp"`
}
