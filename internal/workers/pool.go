// Package workers provides a bounded goroutine pool used to fan a single
// collection cycle out across the News Collector's registered sources
// without spawning one goroutine per source.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work a Pool runs.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures a Pool's worker count, queue depth, and the
// per-task and shutdown timeouts.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig returns a small pool suitable for per-source fetch
// fan-out: a handful of workers, a queue sized to the caller's source
// count, generous timeouts.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      4,
		QueueSize:       64,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// Pool runs submitted tasks across a fixed set of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	tasksFailed atomic.Int64
}

type worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger
}

// NewPool constructs a Pool. config is required; pass DefaultPoolConfig's
// result to get sane defaults.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. A Pool may only be started once.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		w := &worker{
			id:     i,
			pool:   p,
			logger: p.logger.With(zap.Int("worker_id", i)),
		}
		p.wg.Add(1)
		go w.run()
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case task, ok := <-w.pool.taskQueue:
			if !ok {
				return
			}
			w.executeTask(task)
		}
	}
}

// executeTask runs task under the pool's timeout and, if enabled,
// recovers a panic rather than taking down the worker.
func (w *worker) executeTask(task Task) {
	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		var err error
		if w.pool.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}
		err = task.Execute()
		if !w.pool.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			w.pool.tasksFailed.Add(1)
			w.logger.Debug("task failed", zap.Error(err))
		}
	case <-ctx.Done():
		w.pool.tasksFailed.Add(1)
		w.logger.Warn("task timed out", zap.Duration("timeout", w.pool.config.TaskTimeout))
	}
}

// Submit enqueues task, returning ErrQueueFull if the queue is at
// capacity or ErrPoolStopped if the pool isn't running.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits fn as a Task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop signals every worker to exit and waits up to ShutdownTimeout for
// them to drain. Returns ErrShutdownTimeout if workers haven't finished
// by then.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// TasksFailed returns the count of tasks that errored or timed out.
func (p *Pool) TasksFailed() int64 {
	return p.tasksFailed.Load()
}

// IsRunning reports whether the pool currently has workers running.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError is a sentinel error returned by Pool methods.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string { return "panic recovered" }
