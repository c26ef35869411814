package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/service"
)

// NotificationPool runs observer deliveries on a fixed number of goroutines
// fed by a bounded queue.
type NotificationPool struct {
	tasks   chan func(context.Context)
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
}

// NewNotificationPool creates a pool. Each task runs with its own timeout.
func NewNotificationPool(workers, queueSize int, timeout time.Duration, logger *zap.Logger) *NotificationPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationPool{
		tasks:   make(chan func(context.Context), queueSize),
		workers: workers,
		timeout: timeout,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start launches the workers. Tasks inherit values of ctx, not its cancellation.
func (p *NotificationPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit enqueues task without blocking. It returns false when the queue is
// full or the pool is stopped.
func (p *NotificationPool) Submit(task func(context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop refuses new tasks, lets the workers drain the queue and waits for them.
func (p *NotificationPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *NotificationPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *NotificationPool) execute(task func(context.Context)) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notification task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}

var _ service.TaskQueue = (*NotificationPool)(nil)

// StartNotificationWorker registers notification handlers and starts the pool.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, pool *NotificationPool) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if pool != nil {
		pool.Start(ctx)
	}
}
