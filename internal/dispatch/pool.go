// Package dispatch runs fire-and-forget work, such as emergency
// notifications, on a bounded pool of workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed     = errors.New("dispatch: pool is closed")
	ErrQueueFull      = errors.New("dispatch: queue is full")
	ErrForcedShutdown = errors.New("dispatch: shutdown timeout exceeded")
)

// Config configures a Pool
type Config struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("dispatch: workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("dispatch: queue size must not be negative, got %d", c.QueueSize)
	}
	return nil
}

// DefaultConfig returns a small pool suitable for notification fan-out
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		TaskTimeout:     15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Task is one unit of work
type Task struct {
	ID      uint64
	Name    string
	Fn      func(ctx context.Context) error
	Created time.Time
}

// Stats is a point-in-time view of pool counters
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
	Queued    int    `json:"queued"`
}

// Pool executes submitted tasks on a fixed set of workers
type Pool struct {
	config   Config
	logger   *zap.Logger
	tasks    chan *Task
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	once     sync.Once
	nextID   atomic.Uint64

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// New creates and starts a pool
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: cfg,
		logger: logger,
		tasks:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *Pool) execute(task *Task) {
	defer p.inflight.Done()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("dispatch task panicked",
				zap.Uint64("task_id", task.ID),
				zap.String("task", task.Name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := task.Fn(ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("dispatch task failed",
			zap.Uint64("task_id", task.ID),
			zap.String("task", task.Name),
			zap.Duration("queued_for", time.Since(task.Created)),
			zap.Error(err),
		)
		return
	}
	p.completed.Add(1)
}

// TrySubmit enqueues fn without blocking. It returns ErrQueueFull when the
// queue is at capacity and ErrPoolClosed after Stop.
func (p *Pool) TrySubmit(name string, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	task := &Task{
		ID:      p.nextID.Add(1),
		Name:    name,
		Fn:      fn,
		Created: time.Now(),
	}

	p.inflight.Add(1)
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.inflight.Done()
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Wait blocks until every accepted task has finished
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop stops accepting tasks, drains the queue and waits for workers up to
// the shutdown timeout. Queued tasks still run; their context is cancelled
// only when the timeout is exceeded.
func (p *Pool) Stop() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		timeout := p.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		select {
		case <-done:
		case <-time.After(timeout):
			err = ErrForcedShutdown
		}
		p.cancel()
	})
	return err
}

// IsClosed reports whether Stop has been called
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Queued:    len(p.tasks),
	}
}
