package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps audit events in memory, grouped by client. It backs tests
// and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	byOrder []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrder = append(s.byOrder, event)
	return nil
}

func (s *MemoryStore) ListByClient(_ context.Context, clientID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.byOrder {
		if event.ClientID == clientID {
			out = append(out, event)
		}
	}
	return out, nil
}

// ListRecent returns the most recent N events across all clients.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.byOrder) - limit
	if start < 0 {
		start = 0
	}
	return append([]Event{}, s.byOrder[start:]...), nil
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrder = nil
}
