package services

import (
	"context"
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
)

const maintenanceTimeout = 2 * time.Minute

// Scheduler runs periodic maintenance: purging idle sessions and re-driving
// dispatch jobs that were left pending.
type Scheduler struct {
	cron     *rcron.Cron
	sessions *SessionManager
	dispatch *DispatchCoordinator
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(cfg config.SchedulerConfig, sessions *SessionManager, dispatch *DispatchCoordinator) (*Scheduler, error) {
	s := &Scheduler{
		sessions: sessions,
		dispatch: dispatch,
		log:      logger.Component("scheduler"),
		now:      time.Now,
	}
	cronLog := rcron.PrintfLogger(&s.log)
	s.cron = rcron.New(
		rcron.WithLogger(cronLog),
		rcron.WithChain(rcron.Recover(cronLog), rcron.SkipIfStillRunning(cronLog)),
	)

	if _, err := s.cron.AddFunc(cfg.SweepSpec, s.sweep); err != nil {
		return nil, fmt.Errorf("session sweep schedule %q: %w", cfg.SweepSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.ResumeSpec, s.resume); err != nil {
		return nil, fmt.Errorf("dispatch resume schedule %q: %w", cfg.ResumeSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running maintenance to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	n, err := s.sessions.ExpireSweep(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("removed", n).Msg("expired sessions removed")
	}
}

func (s *Scheduler) resume() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	if _, err := s.dispatch.ResumePending(ctx); err != nil {
		s.log.Error().Err(err).Msg("dispatch resume failed")
	}
}
