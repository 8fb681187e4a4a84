package client

import (
	"sync"

	"github.com/kibaro-app/realtime/internal/types"
)

type EventKind int

const (
	EventNotification EventKind = iota
	EventStateChanged
	EventServerStats
)

// Event is what a session surfaces to the application: a freshly delivered
// notification, a connection state transition, or a stats broadcast.
type Event struct {
	Kind         EventKind
	Notification types.Notification
	State        ConnState
	Stats        types.ServerStats
}

const eventBufferSize = 16

// emitter fans session events out to subscribers. Delivery is lossy: a
// subscriber that does not drain its channel misses events rather than
// stalling the read loop.
type emitter struct {
	mu     sync.Mutex
	nextId int
	subs   map[int]chan Event
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]chan Event)}
}

func (e *emitter) subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextId
	e.nextId++
	ch := make(chan Event, eventBufferSize)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if ch, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
