package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

func loadTestConfig(t *testing.T) (*config.Config, *config.Tables) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("IDENTITY_SALT", "test-salt")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tables, err := config.LoadTables(cfg.Tables)
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	cfg.Dispatch.InitialBackoff = time.Millisecond
	cfg.Dispatch.MaxBackoff = 5 * time.Millisecond
	cfg.Dispatch.AttemptTimeout = time.Second
	return cfg, tables
}

// sentMessage records one call to a fake sender.
type sentMessage struct {
	To      string
	Payload models.Payload
}

// fakeSender is a ChatSender and SMSSender whose failures are scripted per
// recipient.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	// fail returns the error for the n-th (1-based) attempt to a recipient.
	fail     func(to string, attempt int) error
	attempts map[string]int
	block    chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{attempts: make(map[string]int)}
}

func (f *fakeSender) SendPayload(ctx context.Context, to string, p models.Payload) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[to]++
	if f.fail != nil {
		if err := f.fail(to, f.attempts[to]); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{To: to, Payload: p})
	return nil
}

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) error {
	return f.SendPayload(ctx, to, models.Payload{Text: body})
}

func (f *fakeSender) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) Attempts(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[to]
}

var errFlaky = errors.New("provider unavailable")
