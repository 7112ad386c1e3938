package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

type recordingProcessor struct {
	mu   sync.Mutex
	seen map[string][]int
}

func (p *recordingProcessor) ProcessMessage(_ context.Context, msg models.InboundMessage) (*TurnResult, error) {
	n, _ := strconv.Atoi(msg.Text)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[msg.From] = append(p.seen[msg.From], n)
	if n%7 == 0 {
		return nil, errors.New("store down")
	}
	return &TurnResult{}, nil
}

func identityKey(s string) string { return s }

func TestInboundRouterKeepsPerUserOrder(t *testing.T) {
	proc := &recordingProcessor{seen: map[string][]int{}}
	r := NewInboundRouter(proc, identityKey, config.DispatchConfig{WorkerShards: 4, QueueDepth: 2})

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				if err := r.Submit(context.Background(), models.InboundMessage{From: u, Text: strconv.Itoa(i)}); err != nil {
					t.Errorf("Submit: %v", err)
				}
			}
		}(u)
	}
	wg.Wait()
	r.Stop()

	for _, u := range users {
		got := proc.seen[u]
		if len(got) != 40 {
			t.Fatalf("%s processed %d messages, want 40", u, len(got))
		}
		for i, n := range got {
			if n != i {
				t.Fatalf("%s: position %d got message %d", u, i, n)
			}
		}
	}
}

func TestInboundRouterRejectsAfterStop(t *testing.T) {
	r := NewInboundRouter(&recordingProcessor{seen: map[string][]int{}}, identityKey, config.DispatchConfig{WorkerShards: 1, QueueDepth: 1})
	r.Stop()
	r.Stop()

	err := r.Submit(context.Background(), models.InboundMessage{From: "u1", Text: "1"})
	if !errors.Is(err, ErrRouterStopped) {
		t.Errorf("err = %v, want ErrRouterStopped", err)
	}
}

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) ProcessMessage(context.Context, models.InboundMessage) (*TurnResult, error) {
	p.started <- struct{}{}
	<-p.release
	return &TurnResult{}, nil
}

func TestInboundRouterSubmitHonoursContext(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{}, 3), release: make(chan struct{})}
	r := NewInboundRouter(proc, identityKey, config.DispatchConfig{WorkerShards: 1, QueueDepth: 1})
	defer func() {
		close(proc.release)
		r.Stop()
	}()

	bg := context.Background()
	if err := r.Submit(bg, models.InboundMessage{From: "u1", Text: "0"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-proc.started
	if err := r.Submit(bg, models.InboundMessage{From: "u1", Text: "1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	cancel()
	if err := r.Submit(ctx, models.InboundMessage{From: "u1", Text: "2"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled once the shard is full", err)
	}
	if r.Queued() != 1 {
		t.Errorf("queued = %d, want 1", r.Queued())
	}
}
