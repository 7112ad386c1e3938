package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

// MemorySessionStore keeps sessions in process memory. Records are cloned on
// the way in and out so callers never share state with the store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ConversationSession
	ttl      time.Duration
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.ConversationSession), ttl: ttl}
}

func (s *MemorySessionStore) Get(ctx context.Context, userKey string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userKey]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Put(ctx context.Context, session *models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserKey] = session.Clone()
	return nil
}

func (s *MemorySessionStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, sess := range s.sessions {
		if sess.Expired(now, s.ttl) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemorySessionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// MemoryJobStore keeps dispatch jobs in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.DispatchJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.DispatchJob)}
}

func copyJob(j *models.DispatchJob) *models.DispatchJob {
	c := *j
	c.DeliveredTo = append([]string(nil), j.DeliveredTo...)
	c.Payload.Options = append([]models.MenuOption(nil), j.Payload.Options...)
	return &c
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.DispatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.IdempotenceKey]; ok {
		return ErrJobExists
	}
	s.jobs[job.IdempotenceKey] = copyJob(job)
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *models.DispatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.IdempotenceKey]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.IdempotenceKey] = copyJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, key string) (*models.DispatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryJobStore) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.DispatchJob, error) {
	s.mu.RLock()
	out := make([]*models.DispatchJob, 0)
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, copyJob(j))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].IdempotenceKey < out[k].IdempotenceKey
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// NewMemoryStores returns in-process stores, used by default and in tests.
func NewMemoryStores(ttl time.Duration) *Stores {
	return &Stores{
		Sessions: NewMemorySessionStore(ttl),
		Jobs:     NewMemoryJobStore(),
	}
}
