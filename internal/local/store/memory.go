package store

import (
	"context"
	"sync"
	"time"

	"authcore/pkg/sentinel"
)

// MemoryUserStore is the in-memory UserStore used by tests and single-node
// deployments.
type MemoryUserStore struct {
	mu         sync.RWMutex
	byID       map[string]*User
	byUsername map[string]string
	identities map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       map[string]*User{},
		byUsername: map[string]string{},
		identities: map[string]string{},
	}
}

func identityKey(provider, subject string) string { return provider + "\x00" + subject }

func (s *MemoryUserStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[user.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byUsername[user.Username]; ok && user.Username != "" {
		return sentinel.ErrConflict
	}
	copied := *user
	s.byID[user.ID] = &copied
	if user.Username != "" {
		s.byUsername[user.Username] = user.ID
	}
	return nil
}

func (s *MemoryUserStore) UserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryUserStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *MemoryUserStore) UserByIdentity(ctx context.Context, provider, subject string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[identityKey(provider, subject)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	user, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryUserStore) LinkIdentity(ctx context.Context, provider, subject, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[userID]; !ok {
		return sentinel.ErrNotFound
	}
	s.identities[identityKey(provider, subject)] = userID
	return nil
}

// MemoryClientStore is the in-memory ClientStore.
type MemoryClientStore struct {
	mu   sync.RWMutex
	byID map[string]*Client
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{byID: map[string]*Client{}}
}

func (s *MemoryClientStore) CreateClient(ctx context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[client.ID]; ok {
		return sentinel.ErrConflict
	}
	copied := *client
	s.byID[client.ID] = &copied
	return nil
}

func (s *MemoryClientStore) ClientByID(ctx context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *client
	return &copied, nil
}

type tokenEntry struct {
	claims    map[string]any
	expiresAt time.Time
}

// MemoryTokenStore is the in-memory TokenStore. Expired entries are dropped
// lazily on access.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: map[string]tokenEntry{}, now: time.Now}
}

func (s *MemoryTokenStore) Save(ctx context.Context, token string, claims map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := tokenEntry{claims: claims}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[token] = entry
	return nil
}

func (s *MemoryTokenStore) Claims(ctx context.Context, token string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(token, false)
}

func (s *MemoryTokenStore) Redeem(ctx context.Context, token string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(token, true)
}

func (s *MemoryTokenStore) lookup(token string, consume bool) (map[string]any, error) {
	entry, ok := s.entries[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, token)
		return nil, sentinel.ErrExpired
	}
	if consume {
		delete(s.entries, token)
	}
	return entry.claims, nil
}
