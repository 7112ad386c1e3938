package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/config"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/logger"
	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

var ErrRouterStopped = errors.New("inbound router stopped")

const turnTimeout = 30 * time.Second

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, msg models.InboundMessage) (*TurnResult, error)
}

// InboundRouter feeds inbound messages to a fixed pool of shard workers.
// All messages of one user land on the same shard, so they are processed
// in arrival order while different users proceed concurrently.
type InboundRouter struct {
	proc   TurnProcessor
	keyOf  func(address string) string
	shards []chan models.InboundMessage
	log    zerolog.Logger
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewInboundRouter(proc TurnProcessor, keyOf func(string) string, cfg config.DispatchConfig) *InboundRouter {
	n := cfg.WorkerShards
	if n < 1 {
		n = 1
	}
	r := &InboundRouter{
		proc:   proc,
		keyOf:  keyOf,
		shards: make([]chan models.InboundMessage, n),
		log:    logger.Component("router"),
	}
	for i := range r.shards {
		r.shards[i] = make(chan models.InboundMessage, cfg.QueueDepth)
		r.wg.Add(1)
		go r.work(r.shards[i])
	}
	return r
}

func (r *InboundRouter) shardFor(userKey string) chan models.InboundMessage {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userKey))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Submit enqueues msg. It blocks while the user's shard is full and gives
// up when ctx is done.
func (r *InboundRouter) Submit(ctx context.Context, msg models.InboundMessage) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRouterStopped
	}
	select {
	case r.shardFor(r.keyOf(msg.From)) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *InboundRouter) work(queue <-chan models.InboundMessage) {
	defer r.wg.Done()
	for msg := range queue {
		r.process(msg)
	}
}

func (r *InboundRouter) process(msg models.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("user", logger.ShortKey(r.keyOf(msg.From))).Msg("turn panicked")
		}
	}()

	if _, err := r.proc.ProcessMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrDuplicateTurn) {
			return
		}
		r.log.Warn().Err(err).Str("user", logger.ShortKey(r.keyOf(msg.From))).Msg("inbound turn failed")
	}
}

// Stop refuses new messages and waits until every queued one is processed.
func (r *InboundRouter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, q := range r.shards {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Queued reports the number of messages waiting across all shards.
func (r *InboundRouter) Queued() int {
	n := 0
	for _, q := range r.shards {
		n += len(q)
	}
	return n
}
