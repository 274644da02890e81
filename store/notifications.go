package store

import (
	"sync"

	"storefront/models"
)

// NotificationStore keeps notifications newest first. Only the read flag
// is ever mutated; entries go away only through Clear or Replace.
type NotificationStore struct {
	mu       sync.RWMutex
	list     []models.Notification
	watchers map[int]chan models.Notification
	nextID   int
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{watchers: make(map[int]chan models.Notification)}
}

func (s *NotificationStore) Add(n models.Notification) {
	s.mu.Lock()
	s.list = append([]models.Notification{n}, s.list...)
	watchers := make([]chan models.Notification, 0, len(s.watchers))
	for _, ch := range s.watchers {
		watchers = append(watchers, ch)
	}
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- n:
		default: // slow watcher, drop
		}
	}
}

func (s *NotificationStore) Replace(list []models.Notification) {
	cp := make([]models.Notification, len(list))
	copy(cp, list)
	s.mu.Lock()
	s.list = cp
	s.mu.Unlock()
}

// MarkRead flips the read flag and reports whether the id was found.
func (s *NotificationStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].Read = true
			return true
		}
	}
	return false
}

func (s *NotificationStore) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		s.list[i].Read = true
	}
}

func (s *NotificationStore) Clear() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
}

func (s *NotificationStore) List() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, len(s.list))
	copy(out, s.list)
	return out
}

func (s *NotificationStore) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.list {
		if !it.Read {
			n++
		}
	}
	return n
}

// Watch streams notifications added after the call until cancel is invoked.
func (s *NotificationStore) Watch() (<-chan models.Notification, func()) {
	ch := make(chan models.Notification, 16)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}
