// Package push abstracts the mobile push-notification provider used as a
// fallback for users with no live connection. Delivery is best effort: a
// failed send is reported through the return value and never interrupts
// the publish that triggered it.
package push

import (
	"log"

	"github.com/kibaro-app/realtime/internal/types"
)

type Payload struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Type     types.NotificationType `json:"type"`
	ImageUrl string                 `json:"imageUrl,omitempty"`
}

type Sink interface {
	Send(userId int64, payload Payload) bool
}

// LogSink records push attempts without contacting a provider. It stands in
// for the real provider integration, which lives outside this subsystem.
type LogSink struct {
	log *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Send(userId int64, payload Payload) bool {
	s.log.Printf("push fallback for user %d: %s (%s)", userId, payload.Title, payload.Type)
	return true
}
