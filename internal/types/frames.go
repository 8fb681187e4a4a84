package types

import (
	"encoding/json"
	"time"
)

// Inbound event names (client to server).
const (
	EventAuthenticate   = "authenticate"
	EventJoinRooms      = "join-rooms"
	EventLeaveRooms     = "leave-rooms"
	EventUpdateLocation = "update-location"
	EventMarkRead       = "mark-read"
	EventMarkAllRead    = "mark-all-read"
)

// Outbound event names (server to client).
const (
	EventNotification        = "notification"
	EventUnreadNotifications = "unread_notifications"
	EventServerStats         = "server_stats"
	EventError               = "error"
)

// ClientFrame is the envelope for client-to-server frames. Data is decoded
// per event once the event name is known.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is the envelope for server-to-client frames.
type ServerFrame struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AuthPayload struct {
	UserId int64  `json:"userId"`
	Token  string `json:"token"`
}

// UnreadNotificationsPayload carries the backlog replay sent once per
// successful handshake, oldest first within the backlog cap.
type UnreadNotificationsPayload struct {
	Data []Notification `json:"data"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
