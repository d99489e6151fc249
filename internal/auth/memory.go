package auth

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Service for tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User // keyed by uid
}

// NewMemory creates an empty in-memory identity service.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]User)}
}

// Add registers a principal.
func (m *Memory) Add(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UID] = user
}

// GetByEmail implements Service.
func (m *Memory) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

// Delete implements Service.
func (m *Memory) Delete(ctx context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[uid]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, uid)
	return nil
}

// SetClaims implements Service.
func (m *Memory) SetClaims(ctx context.Context, uid string, claims map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	user.Claims = claims
	m.users[uid] = user
	return nil
}

// List implements Service.
func (m *Memory) List(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	m.mu.RLock()
	uids := make([]string, 0, len(m.users))
	for uid := range m.users {
		if uid > pageToken {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)

	page := &Page{}
	for _, uid := range uids {
		if len(page.Users) == pageSize {
			page.NextToken = page.Users[len(page.Users)-1].UID
			break
		}
		page.Users = append(page.Users, m.users[uid])
	}
	m.mu.RUnlock()
	return page, nil
}
