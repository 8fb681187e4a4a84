package realtime

import (
	"net/http"
	"time"

	"github.com/kibaro-app/realtime/internal/types"
)

func NotificationFrame(n types.Notification) *types.ServerFrame {
	return &types.ServerFrame{
		Event:     types.EventNotification,
		Data:      n,
		Timestamp: Now(),
	}
}

func UnreadNotificationsFrame(notifications []types.Notification) *types.ServerFrame {
	if notifications == nil {
		notifications = []types.Notification{}
	}
	return &types.ServerFrame{
		Event:     types.EventUnreadNotifications,
		Data:      types.UnreadNotificationsPayload{Data: notifications},
		Timestamp: Now(),
	}
}

func ServerStatsFrame(s types.ServerStats) *types.ServerFrame {
	return &types.ServerFrame{
		Event:     types.EventServerStats,
		Data:      s,
		Timestamp: Now(),
	}
}

func errorFrame(code int, message string) *types.ServerFrame {
	return &types.ServerFrame{
		Event:     types.EventError,
		Data:      types.ErrorPayload{Code: code, Message: message},
		Timestamp: Now(),
	}
}

func ErrAuthFailed() *types.ServerFrame {
	return errorFrame(http.StatusUnauthorized, "authentication failed")
}

func ErrNotAuthenticated() *types.ServerFrame {
	return errorFrame(http.StatusUnauthorized, "authentication required")
}

func ErrAlreadyAuthenticatedFrame() *types.ServerFrame {
	return errorFrame(http.StatusConflict, "already authenticated")
}

func ErrInvalidFrame() *types.ServerFrame {
	return errorFrame(http.StatusBadRequest, "invalid frame")
}

func ErrInternalError() *types.ServerFrame {
	return errorFrame(http.StatusInternalServerError, "internal server error")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
