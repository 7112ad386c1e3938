package services

import (
	"context"
	"testing"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/database"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func TestSchedulerRejectsBadSpecs(t *testing.T) {
	stores := database.NewMemoryStores(time.Hour)
	sessions := NewSessionManager(stores.Sessions, time.Hour)
	d := NewDispatchCoordinator(stores.Jobs, nil, testDispatchConfig(), false)

	if _, err := NewScheduler(config.SchedulerConfig{SweepSpec: "every so often", ResumeSpec: "@every 1m"}, sessions, d); err == nil {
		t.Error("invalid sweep spec accepted")
	}
	if _, err := NewScheduler(config.SchedulerConfig{SweepSpec: "@every 1m", ResumeSpec: "61 * * * *"}, sessions, d); err == nil {
		t.Error("invalid resume spec accepted")
	}
}

func TestSchedulerMaintenance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stores := database.NewMemoryStores(time.Hour)
	sessions := NewSessionManager(stores.Sessions, time.Hour)
	sender := newFakeSender()
	d := NewDispatchCoordinator(stores.Jobs, NewDeliveryRouter(sender, sender, nil, nil), testDispatchConfig(), false)

	s, err := NewScheduler(config.SchedulerConfig{SweepSpec: "@every 10m", ResumeSpec: "@every 1m"}, sessions, d)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return now }

	stale := models.NewSession("stale", now.Add(-2*time.Hour))
	fresh := models.NewSession("fresh", now.Add(-time.Minute))
	_ = stores.Sessions.Put(ctx, stale)
	_ = stores.Sessions.Put(ctx, fresh)

	s.sweep()
	if n, _ := sessions.Count(ctx); n != 1 {
		t.Errorf("sessions after sweep = %d, want 1", n)
	}

	job := &models.DispatchJob{
		IdempotenceKey: "left-behind",
		Channel:        models.ChannelUserReply,
		Transport:      models.TransportWhatsApp,
		Recipient:      "15550001",
		Payload:        models.Payload{Text: "hello"},
		Status:         models.JobPending,
	}
	if err := stores.Jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.resume()
	got, _ := stores.Jobs.Get(ctx, "left-behind")
	if got.Status != models.JobSent || sender.Attempts("15550001") != 1 {
		t.Errorf("resumed job status %s, attempts %d", got.Status, sender.Attempts("15550001"))
	}

	s.Start()
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
