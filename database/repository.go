package database

import (
	"context"
	"errors"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobExists       = errors.New("dispatch job already exists")
	ErrJobNotFound     = errors.New("dispatch job not found")
)

// SessionRepository is the session persistence adapter. Implementations
// are not required to serialize writers; callers go through the per-user
// locked path.
type SessionRepository interface {
	Get(ctx context.Context, userKey string) (*models.ConversationSession, error)
	Put(ctx context.Context, session *models.ConversationSession) error
	// ExpireSweep removes sessions inactive for longer than the store TTL
	// and returns how many were removed.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// JobStore persists dispatch jobs. Create is insert-if-absent keyed by the
// idempotence key and returns ErrJobExists for a duplicate.
type JobStore interface {
	Create(ctx context.Context, job *models.DispatchJob) error
	Update(ctx context.Context, job *models.DispatchJob) error
	Get(ctx context.Context, key string) (*models.DispatchJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.DispatchJob, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// Stores groups the repositories of one backend.
type Stores struct {
	Sessions SessionRepository
	Jobs     JobStore

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// HealthCheck pings the backend.
func (s *Stores) HealthCheck(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend connection.
func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
