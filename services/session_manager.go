package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// SessionManager is the single-writer path to the session store.
type SessionManager struct {
	store database.SessionRepository
	ttl   time.Duration
	locks *keyedMutex
}

func NewSessionManager(store database.SessionRepository, ttl time.Duration) *SessionManager {
	return &SessionManager{store: store, ttl: ttl, locks: newKeyedMutex()}
}

// WithSession runs fn on a private copy of the user's session while holding
// that user's lock. The copy is written back only when fn succeeds; on any
// error the stored session is left exactly as it was. A missing or expired
// session starts fresh.
func (m *SessionManager) WithSession(ctx context.Context, userKey string, now time.Time, fn func(*models.ConversationSession) error) error {
	return m.Transact(ctx, userKey, now, fn, nil)
}

// Transact is WithSession with a hook that runs after the session has been
// written, still under the user's lock, so the next turn of the same user
// starts only once the hook returns.
func (m *SessionManager) Transact(ctx context.Context, userKey string, now time.Time, fn func(*models.ConversationSession) error, afterCommit func() error) error {
	unlock := m.locks.lock(userKey)
	defer unlock()

	current, err := m.store.Get(ctx, userKey)
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		current = models.NewSession(userKey, now)
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	case current.Expired(now, m.ttl):
		current = models.NewSession(userKey, now)
	}
	current.Upgrade()

	working := current.Clone()
	if err := fn(working); err != nil {
		return err
	}
	working.LastActivity = now
	if err := m.store.Put(ctx, working); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if afterCommit != nil {
		return afterCommit()
	}
	return nil
}

// Get returns a copy of the stored session without locking, for read-only
// inspection.
func (m *SessionManager) Get(ctx context.Context, userKey string) (*models.ConversationSession, error) {
	return m.store.Get(ctx, userKey)
}

// ExpireSweep purges sessions idle for longer than the TTL.
func (m *SessionManager) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	return m.store.ExpireSweep(ctx, now)
}

// Count returns the number of stored sessions.
func (m *SessionManager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}
