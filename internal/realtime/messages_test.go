package realtime

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kibaro-app/realtime/internal/types"
)

func TestUnreadNotificationsFrame_emptyBacklog(t *testing.T) {
	frame := UnreadNotificationsFrame(nil)
	assert.Equal(t, types.EventUnreadNotifications, frame.Event)

	// a nil backlog still serializes as an empty array, not null
	raw, err := json.Marshal(frame.Data)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(raw))
}

func TestNotificationFrame(t *testing.T) {
	n := types.Notification{Id: 12, Type: types.TypeNewPost, Title: "Nouveau poste"}
	frame := NotificationFrame(n)
	assert.Equal(t, types.EventNotification, frame.Event)
	assert.Equal(t, n, frame.Data)
	assert.False(t, frame.Timestamp.IsZero())
}

func TestErrorFrames(t *testing.T) {
	tt := []struct {
		frame *types.ServerFrame
		code  int
	}{
		{ErrAuthFailed(), http.StatusUnauthorized},
		{ErrNotAuthenticated(), http.StatusUnauthorized},
		{ErrAlreadyAuthenticatedFrame(), http.StatusConflict},
		{ErrInvalidFrame(), http.StatusBadRequest},
		{ErrInternalError(), http.StatusInternalServerError},
	}

	for _, tc := range tt {
		assert.Equal(t, types.EventError, tc.frame.Event)
		payload := tc.frame.Data.(types.ErrorPayload)
		assert.Equal(t, tc.code, payload.Code)
		assert.NotEmpty(t, payload.Message)
	}
}
