package database

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// ConnectPostgres opens the pool, applies the schema and returns the
// session and job repositories backed by it.
func ConnectPostgres(ctx context.Context, cfg *config.Config) (*Stores, error) {
	db, err := sql.Open("postgres", cfg.BuildDatabaseURI())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MinConnections)
	db.SetConnMaxIdleTime(cfg.Database.MaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
	}
	log := logger.Component("database")
	log.Info().Str("database", cfg.Database.Name).Msg("connected to PostgreSQL")

	return &Stores{
		Sessions: &PostgresSessionStore{DB: db, ttl: cfg.Triage.SessionTTL},
		Jobs:     &PostgresJobStore{DB: db},
		ping:     db.PingContext,
		close:    func(context.Context) error { return db.Close() },
	}, nil
}

// PostgresSessionStore keeps one row per user key.
type PostgresSessionStore struct {
	DB  *sql.DB
	ttl time.Duration
}

func (s *PostgresSessionStore) Get(ctx context.Context, userKey string) (*models.ConversationSession, error) {
	var (
		sess     models.ConversationSession
		history  []byte
		cooldown sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_key, schema_version, state, preferred_language, history, pending_text,
		        pending_intent, clarification_attempts, collected_symptoms, triage_turns,
		        last_activity, emergency_cooldown_until, cooldown_window_id, created_at
		 FROM conversation_sessions
		 WHERE user_key = $1`,
		userKey,
	).Scan(&sess.UserKey, &sess.SchemaVersion, &sess.State, &sess.PreferredLanguage, &history,
		&sess.PendingText, &sess.PendingIntent, &sess.ClarificationAttempts,
		pq.Array(&sess.CollectedSymptoms), &sess.TriageTurns, &sess.LastActivity, &cooldown,
		&sess.CooldownWindowID, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if err := json.Unmarshal(history, &sess.History); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	if cooldown.Valid {
		sess.EmergencyCooldownTill = cooldown.Time
	}
	sess.Upgrade()
	return &sess, nil
}

func (s *PostgresSessionStore) Put(ctx context.Context, sess *models.ConversationSession) error {
	history, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("encode session history: %w", err)
	}
	if sess.History == nil {
		history = []byte("[]")
	}
	var cooldown sql.NullTime
	if !sess.EmergencyCooldownTill.IsZero() {
		cooldown = sql.NullTime{Time: sess.EmergencyCooldownTill, Valid: true}
	}
	symptoms := sess.CollectedSymptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO conversation_sessions (user_key, schema_version, state, preferred_language, history,
		        pending_text, pending_intent, clarification_attempts, collected_symptoms, triage_turns,
		        last_activity, emergency_cooldown_until, cooldown_window_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (user_key) DO UPDATE SET
		        schema_version = EXCLUDED.schema_version,
		        state = EXCLUDED.state,
		        preferred_language = EXCLUDED.preferred_language,
		        history = EXCLUDED.history,
		        pending_text = EXCLUDED.pending_text,
		        pending_intent = EXCLUDED.pending_intent,
		        clarification_attempts = EXCLUDED.clarification_attempts,
		        collected_symptoms = EXCLUDED.collected_symptoms,
		        triage_turns = EXCLUDED.triage_turns,
		        last_activity = EXCLUDED.last_activity,
		        emergency_cooldown_until = EXCLUDED.emergency_cooldown_until,
		        cooldown_window_id = EXCLUDED.cooldown_window_id`,
		sess.UserKey, sess.SchemaVersion, sess.State, sess.PreferredLanguage, history,
		sess.PendingText, sess.PendingIntent, sess.ClarificationAttempts, pq.Array(symptoms),
		sess.TriageTurns, sess.LastActivity, cooldown, sess.CooldownWindowID, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE last_activity < $1`, now.Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresSessionStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM conversation_sessions`).Scan(&n)
	return n, err
}

// PostgresJobStore uses the primary key on idempotence_key for
// insert-if-absent semantics.
type PostgresJobStore struct {
	DB *sql.DB
}

const jobColumns = `idempotence_key, turn_id, user_key, channel, transport, recipient, payload,
	urgency, outcome, attempt_count, status, last_error, delivered_to, created_at, updated_at`

func jobArgs(job *models.DispatchJob) ([]interface{}, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var outcome []byte
	if job.Outcome != nil {
		if outcome, err = json.Marshal(job.Outcome); err != nil {
			return nil, fmt.Errorf("encode outcome: %w", err)
		}
	}
	delivered := job.DeliveredTo
	if delivered == nil {
		delivered = []string{}
	}
	return []interface{}{
		job.IdempotenceKey, job.TurnID, job.UserKey, job.Channel, job.Transport, job.Recipient,
		payload, int(job.Urgency), outcome, job.AttemptCount, job.Status, job.LastError,
		pq.Array(delivered), job.CreatedAt, job.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.DispatchJob, error) {
	var (
		job     models.DispatchJob
		payload []byte
		outcome []byte
		urgency int
	)
	if err := row.Scan(&job.IdempotenceKey, &job.TurnID, &job.UserKey, &job.Channel, &job.Transport,
		&job.Recipient, &payload, &urgency, &outcome, &job.AttemptCount, &job.Status, &job.LastError,
		pq.Array(&job.DeliveredTo), &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Urgency = models.UrgencyTier(urgency)
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(outcome) > 0 {
		job.Outcome = &models.TriageOutcome{}
		if err := json.Unmarshal(outcome, job.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
	}
	return &job, nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job *models.DispatchJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO dispatch_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (idempotence_key) DO NOTHING`, args...)
	if err != nil {
		return fmt.Errorf("insert dispatch job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobExists
	}
	return nil
}

func (s *PostgresJobStore) Update(ctx context.Context, job *models.DispatchJob) error {
	delivered := job.DeliveredTo
	if delivered == nil {
		delivered = []string{}
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE dispatch_jobs
		 SET attempt_count = $2, status = $3, last_error = $4, delivered_to = $5, updated_at = $6
		 WHERE idempotence_key = $1`,
		job.IdempotenceKey, job.AttemptCount, job.Status, job.LastError, pq.Array(delivered), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dispatch job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, key string) (*models.DispatchJob, error) {
	job, err := scanJob(s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE idempotence_key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select dispatch job: %w", err)
	}
	return job, nil
}

func (s *PostgresJobStore) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.DispatchJob, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at
		 LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.DispatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, count(*) FROM dispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count dispatch jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var (
			status models.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
