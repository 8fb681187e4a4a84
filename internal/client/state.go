package client

import (
	"sort"
	"sync"

	"github.com/kibaro-app/realtime/internal/types"
)

// maxNotifications caps local reconciliation state at the same depth the
// server keeps per user.
const maxNotifications = 100

// State is the client-side mirror of the user's notification backlog. The
// list is held most recent first; entries with a server-assigned id are
// deduplicated on insert, keeping the newest copy.
type State struct {
	mu            sync.RWMutex
	notifications []types.Notification
	unread        int
}

func NewState() *State {
	return &State{}
}

// Insert adds one notification at the head of the list. A duplicate id
// (room fan-out frames carry no id and are never deduplicated) replaces
// the existing entry.
func (s *State) Insert(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Id != 0 {
		s.removeLocked(n.Id)
	}

	s.notifications = append([]types.Notification{n}, s.notifications...)
	if !n.Read {
		s.unread++
	}
	s.trimLocked()
}

// Replace swaps the entire local state for the server's snapshot. It is
// atomic: readers observe either the previous state or the full snapshot.
func (s *State) Replace(notifications []types.Notification) {
	sorted := make([]types.Notification, len(notifications))
	copy(sorted, notifications)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id > sorted[j].Id })

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = sorted
	s.unread = 0
	for _, n := range sorted {
		if !n.Read {
			s.unread++
		}
	}
	s.trimLocked()
}

// MarkRead flags one notification read. Unknown ids are ignored.
func (s *State) MarkRead(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].Id == id {
			if !s.notifications[i].Read {
				s.notifications[i].Read = true
				s.unread--
			}
			return
		}
	}
}

func (s *State) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	s.unread = 0
}

// Remove deletes one notification. Unknown ids are ignored.
func (s *State) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Clear drops all local state, used when a session ends.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = nil
	s.unread = 0
}

// Notifications returns a copy of the list, most recent first.
func (s *State) Notifications() []types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *State) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *State) removeLocked(id int64) {
	for i := range s.notifications {
		if s.notifications[i].Id == id {
			if !s.notifications[i].Read {
				s.unread--
			}
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

func (s *State) trimLocked() {
	for len(s.notifications) > maxNotifications {
		last := s.notifications[len(s.notifications)-1]
		if !last.Read {
			s.unread--
		}
		s.notifications = s.notifications[:len(s.notifications)-1]
	}
}
