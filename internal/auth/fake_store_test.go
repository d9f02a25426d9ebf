package auth

import (
	"context"
	"sync"
	"time"

	"github.com/yourusername/worklog-auth/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	sessions map[string]store.Session
	err      error
}

func newFakeStore(users ...*store.User) *fakeStore {
	f := &fakeStore{
		users:    make(map[string]*store.User),
		sessions: make(map[string]store.Session),
	}
	for _, u := range users {
		f.users[u.Username] = u
	}
	return f
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) CreateSession(_ context.Context, s store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) SessionUser(_ context.Context, id string, now time.Time) (*store.SessionUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok || s.ExpiresAt <= now.Unix() {
		return nil, store.ErrNotFound
	}
	for _, u := range f.users {
		if u.ID == s.UserID {
			return &store.SessionUser{UserID: u.ID, Username: u.Username, ExpiresAt: s.ExpiresAt}, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}
