package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

// PermanentError marks a delivery failure that retrying cannot fix, such as
// an invalid recipient.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Deliverer is the outbound delivery adapter. Implementations may record
// partial progress for group recipients in job.DeliveredTo.
type Deliverer interface {
	Deliver(ctx context.Context, job *models.DispatchJob) error
}

// adminUserKey scopes operator-alert admin jobs, which belong to no user.
const adminUserKey = "admin"

// DispatchCoordinator turns decisions into dispatch jobs and drives them to
// a terminal state.
type DispatchCoordinator struct {
	jobs       database.JobStore
	delivery   Deliverer
	cfg        config.DispatchConfig
	smsEnabled bool
	log        zerolog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
}

func NewDispatchCoordinator(jobs database.JobStore, delivery Deliverer, cfg config.DispatchConfig, smsEnabled bool) *DispatchCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchCoordinator{
		jobs:       jobs,
		delivery:   delivery,
		cfg:        cfg,
		smsEnabled: smsEnabled,
		log:        logger.Component("dispatch"),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[string]bool),
	}
}

// Plan is pure: it always yields one user reply, an admin alert for high
// or critical urgency and for emergencies, and an SMS for critical urgency
// when SMS is configured. Alerts are skipped inside a cooldown window.
func (d *DispatchCoordinator) Plan(dec models.Decision) []*models.DispatchJob {
	now := d.now()
	newJob := func(channel models.DispatchChannel, userKey, scope, recipient string, transport models.MessageTransport, payload models.Payload) *models.DispatchJob {
		return &models.DispatchJob{
			IdempotenceKey: models.IdempotenceKey(userKey, scope, channel),
			TurnID:         dec.TurnID,
			UserKey:        dec.UserKey,
			Channel:        channel,
			Transport:      transport,
			Recipient:      recipient,
			Payload:        payload,
			Urgency:        dec.Urgency,
			Outcome:        dec.Outcome,
			Status:         models.JobPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	jobs := []*models.DispatchJob{
		newJob(models.ChannelUserReply, dec.UserKey, dec.TurnID, dec.Recipient, dec.Transport, dec.Reply),
	}
	if dec.SuppressAlerts {
		return jobs
	}

	alertUser, alertScope := dec.UserKey, dec.TurnID
	switch {
	case dec.Source == models.SourceAdmin:
		// One admin notice per operator request, however many recipients.
		alertUser = adminUserKey
	case dec.Emergency && dec.CooldownWindowID != "":
		alertScope = "cooldown:" + dec.CooldownWindowID
	}

	if dec.Urgency >= models.UrgencyHigh || dec.Emergency {
		jobs = append(jobs, newJob(models.ChannelAdminAlert, alertUser, alertScope,
			models.AdminGroupRecipient, models.TransportWhatsApp, dec.Alert))
	}
	if dec.Urgency == models.UrgencyCritical && d.smsEnabled && dec.SMSRecipient != "" {
		smsScope := alertScope
		if dec.Source == models.SourceAdmin {
			smsScope = dec.TurnID
		}
		jobs = append(jobs, newJob(models.ChannelSMS, dec.UserKey, smsScope, dec.SMSRecipient, "", dec.SMS))
	}
	return jobs
}

// Dispatch persists the planned jobs and starts delivering them in the
// background. Jobs whose idempotence key already exists are skipped, so a
// redelivered turn never sends twice. It returns snapshots of the newly
// created jobs as they were persisted.
func (d *DispatchCoordinator) Dispatch(ctx context.Context, dec models.Decision) ([]*models.DispatchJob, error) {
	log := logger.FromContext(ctx).With().Str("component", "dispatch").Str("turn_id", dec.TurnID).Logger()

	var created, snapshots []*models.DispatchJob
	for _, job := range d.Plan(dec) {
		// Claimed before it is visible in the store so a concurrent resume
		// cannot pick it up first.
		if !d.claim(job.IdempotenceKey) {
			log.Debug().Str("channel", string(job.Channel)).Msg("dispatch job already in flight")
			continue
		}
		err := d.jobs.Create(ctx, job)
		if errors.Is(err, database.ErrJobExists) {
			d.release(job.IdempotenceKey)
			log.Debug().Str("channel", string(job.Channel)).Msg("duplicate dispatch job skipped")
			continue
		}
		if err != nil {
			d.release(job.IdempotenceKey)
			d.start(created)
			return snapshots, fmt.Errorf("create %s job: %w", job.Channel, err)
		}
		snapshot := *job
		created = append(created, job)
		snapshots = append(snapshots, &snapshot)
	}
	d.start(created)
	return snapshots, nil
}

func (d *DispatchCoordinator) start(jobs []*models.DispatchJob) {
	if len(jobs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliverAll(d.ctx, jobs)
	}()
}

// deliverAll drives the jobs of one decision concurrently.
func (d *DispatchCoordinator) deliverAll(ctx context.Context, jobs []*models.DispatchJob) {
	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return d.deliverClaimed(ctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		d.log.Warn().Err(err).Int("jobs", len(jobs)).Msg("dispatch finished with undelivered jobs")
	}
}

func (d *DispatchCoordinator) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[key] {
		return false
	}
	d.inflight[key] = true
	return true
}

func (d *DispatchCoordinator) release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, key)
}

func (d *DispatchCoordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	return b
}

// deliverClaimed runs the retry loop of a job the caller has claimed. A job
// whose context is cancelled mid-flight is stored back as pending for
// ResumePending.
func (d *DispatchCoordinator) deliverClaimed(ctx context.Context, job *models.DispatchJob) error {
	defer d.release(job.IdempotenceKey)

	log := d.log.With().
		Str("job", job.IdempotenceKey).
		Str("channel", string(job.Channel)).
		Str("user", logger.ShortKey(job.UserKey)).
		Logger()

	remaining := d.cfg.MaxAttempts - job.AttemptCount
	if remaining <= 0 {
		d.finish(job, models.JobExhausted)
		return fmt.Errorf("job %s: attempt budget spent", job.IdempotenceKey)
	}

	permanent := false
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		job.AttemptCount++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		err := d.delivery.Deliver(attemptCtx, job)
		cancel()
		if err == nil {
			return struct{}{}, nil
		}
		job.LastError = logger.RedactDigits(err.Error())
		if IsPermanent(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		job.Status = models.JobFailed
		d.save(job)
		log.Debug().Str("error", job.LastError).Int("attempt", job.AttemptCount).Msg("delivery attempt failed")
		return struct{}{}, err
	}, backoff.WithBackOff(d.newBackOff()), backoff.WithMaxTries(uint(remaining)))

	switch {
	case err == nil:
		job.LastError = ""
		d.finish(job, models.JobSent)
		log.Info().Int("attempts", job.AttemptCount).Msg("dispatch job sent")
		return nil
	case permanent:
		d.finish(job, models.JobExhausted)
		log.Warn().Str("error", job.LastError).Msg("dispatch job failed permanently")
	case ctx.Err() != nil:
		d.finish(job, models.JobPending)
		log.Info().Msg("dispatch job left pending for resume")
	default:
		d.finish(job, models.JobExhausted)
		log.Warn().Str("error", job.LastError).Int("attempts", job.AttemptCount).Msg("dispatch job exhausted")
	}
	// Provider text may carry the recipient number.
	return fmt.Errorf("job %s: %s", job.IdempotenceKey, logger.RedactDigits(err.Error()))
}

func (d *DispatchCoordinator) finish(job *models.DispatchJob, status models.JobStatus) {
	job.Status = status
	d.save(job)
}

// save persists job progress even while the delivery context is being
// cancelled, so shutdown never loses attempt counts.
func (d *DispatchCoordinator) save(job *models.DispatchJob) {
	job.UpdatedAt = d.now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.jobs.Update(ctx, job); err != nil {
		d.log.Error().Err(err).Str("job", job.IdempotenceKey).Msg("failed to persist dispatch job")
	}
}

// ResumePending re-drives jobs left pending or failed, for example by a
// previous process that shut down mid-delivery. It blocks until they reach
// a terminal state or ctx is cancelled.
func (d *DispatchCoordinator) ResumePending(ctx context.Context) (int, error) {
	var jobs []*models.DispatchJob
	for _, status := range []models.JobStatus{models.JobPending, models.JobFailed} {
		list, err := d.jobs.ListByStatus(ctx, status, 500)
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", status, err)
		}
		jobs = append(jobs, list...)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	var resumed atomic.Int64
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if !d.claim(job.IdempotenceKey) {
				return nil
			}
			fresh, err := d.jobs.Get(ctx, job.IdempotenceKey)
			if err != nil || fresh.Status.Terminal() {
				d.release(job.IdempotenceKey)
				return nil
			}
			resumed.Add(1)
			_ = d.deliverClaimed(ctx, fresh)
			return nil
		})
	}
	_ = g.Wait()
	n := int(resumed.Load())
	d.log.Info().Int("resumed", n).Msg("pending dispatch jobs resumed")
	return n, nil
}

// Wait blocks until background deliveries started by Dispatch finish.
func (d *DispatchCoordinator) Wait() {
	d.wg.Wait()
}

// Shutdown stops background deliveries. Jobs that have not reached a
// terminal state stay pending in the store.
func (d *DispatchCoordinator) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListJobs exposes jobs by status for operators.
func (d *DispatchCoordinator) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.DispatchJob, error) {
	return d.jobs.ListByStatus(ctx, status, limit)
}

// JobCounts returns the number of jobs per status.
func (d *DispatchCoordinator) JobCounts(ctx context.Context) (map[models.JobStatus]int, error) {
	return d.jobs.CountByStatus(ctx)
}
