package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examprep-backend/internal/models"
	"examprep-backend/internal/services"
)

var (
	ErrQueueFull   = errors.New("event queue is full")
	ErrPoolStopped = errors.New("event pool is stopped")
)

const publishTimeout = 5 * time.Second

type job struct {
	userID uuid.UUID
	msg    models.WSMessage
}

// Pool delivers session events on background goroutines so a slow or
// unavailable broker never holds up the request that produced the event.
// It satisfies services.EventPublisher.
type Pool struct {
	publisher   services.EventPublisher
	log         *zap.Logger
	jobs        chan job
	workerCount int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(publisher services.EventPublisher, workerCount, queueSize int, logger *zap.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		publisher:   publisher,
		log:         logger.Named("event_pool"),
		jobs:        make(chan job, queueSize),
		workerCount: workerCount,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("started event workers", zap.Int("workers", p.workerCount))
}

// Stop refuses new events and waits for queued ones to be delivered.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// PublishUpdate enqueues the event. It never blocks; a full queue drops the
// event and reports ErrQueueFull.
func (p *Pool) PublishUpdate(_ context.Context, userID uuid.UUID, msg models.WSMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job{userID: userID, msg: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for j := range p.jobs {
		// The originating request is usually gone by now.
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.publisher.PublishUpdate(ctx, j.userID, j.msg)
		cancel()
		if err != nil {
			p.log.Warn("event delivery failed",
				zap.Int("worker", id),
				zap.String("event", j.msg.Type),
				zap.Stringer("user_id", j.userID),
				zap.Error(err),
			)
		}
	}
	p.log.Debug("event worker shutting down", zap.Int("worker", id))
}
