package store

import (
	"sync"

	"storefront/models"
)

// OrderStore is the client-side view of the user's orders, kept in
// arrival order with at most one entry per order id.
type OrderStore struct {
	mu    sync.RWMutex
	list  []models.Order
	index map[string]int
}

func NewOrderStore() *OrderStore {
	return &OrderStore{index: make(map[string]int)}
}

// Upsert replaces an existing order in place or appends a new one.
func (s *OrderStore) Upsert(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[o.ID]; ok {
		s.list[i] = o
		return
	}
	s.index[o.ID] = len(s.list)
	s.list = append(s.list, o)
}

func (s *OrderStore) Get(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Order{}, false
	}
	return s.list[i], true
}

func (s *OrderStore) List() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, len(s.list))
	copy(out, s.list)
	return out
}

// ReplaceAll swaps in a freshly fetched order list. Duplicate ids collapse
// onto the first position with the last record.
func (s *OrderStore) ReplaceAll(orders []models.Order) {
	list := make([]models.Order, 0, len(orders))
	index := make(map[string]int, len(orders))
	for _, o := range orders {
		if i, ok := index[o.ID]; ok {
			list[i] = o
			continue
		}
		index[o.ID] = len(list)
		list = append(list, o)
	}

	s.mu.Lock()
	s.list, s.index = list, index
	s.mu.Unlock()
}

func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}
