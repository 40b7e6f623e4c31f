package syncx

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"sync"
)

var (
	ErrExecutorStopped = errors.New("executor is stopped")
	ErrNilTask         = errors.New("nil task")
	ErrPoolConfig      = errors.New("invalid worker pool configuration")
)

// Executor runs submitted tasks on some other goroutine.
// Submit may block while the task is being scheduled, but must not wait for the task to run.
type Executor interface {
	Submit(task func()) error
}

// ExecutorFunc is a function that implements the [Executor] interface.
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Submit(task func()) error {
	return f(task)
}

// GoExecutor returns an [Executor] that starts a new goroutine for each task.
// It never blocks and never refuses a task.
func GoExecutor() Executor {
	return ExecutorFunc(func(task func()) error {
		if task == nil {
			return ErrNilTask
		}
		go task()
		return nil
	})
}

var _ Executor = (*WorkerPool)(nil)

type poolConf struct {
	log zerolog.Logger
}

type PoolOption func(conf *poolConf) error

// PoolLogger sets the logger used to report panics recovered from tasks.
func PoolLogger(logger zerolog.Logger) PoolOption {
	return func(conf *poolConf) error {
		conf.log = logger
		return nil
	}
}

// WorkerPool is an [Executor] with a fixed number of worker goroutines and a bounded task queue.
// Submit never blocks. When the queue is full, the task is parked on its own goroutine until a worker takes it,
// so a task may submit more work to its own pool without deadlocking it.
//
// Panics in tasks are recovered and logged, so one misbehaving task can't take down a worker.
type WorkerPool struct {
	mux     sync.RWMutex
	tasks   chan func()
	exited  chan struct{}
	workers int
	stopped bool
	start   sync.Once
	stop    sync.Once
	pending sync.WaitGroup // Submitted tasks that haven't reached the queue.
	done    sync.WaitGroup
	log     zerolog.Logger
}

// NewWorkerPool creates a [WorkerPool] with the given number of workers and task queue size.
// The pool is started by [WorkerPool.Start], or implicitly by the first call to [WorkerPool.Submit].
func NewWorkerPool(workers, queueSize int, opts ...PoolOption) (*WorkerPool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", ErrPoolConfig, workers)
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("%w: queue size must be >= 0, got %d", ErrPoolConfig, queueSize)
	}
	conf := &poolConf{log: zerolog.Nop()}
	for _, opt := range opts {
		if err := opt(conf); err != nil {
			return nil, err
		}
	}
	return &WorkerPool{
		tasks:   make(chan func(), queueSize),
		exited:  make(chan struct{}),
		workers: workers,
		log:     conf.log,
	}, nil
}

// Start launches the worker goroutines if they aren't running already.
// This is safe to call multiple times from multiple goroutines.
func (p *WorkerPool) Start() *WorkerPool {
	p.start.Do(func() {
		p.done.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.run(i)
		}
		go func() {
			p.done.Wait()
			close(p.exited)
		}()
	})
	return p
}

// Submit queues a task for execution.
// [ErrExecutorStopped] is returned once the pool has been stopped.
// A task accepted by Submit is run even if the pool is stopped before a worker takes it.
func (p *WorkerPool) Submit(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	p.Start()
	stopped := RLockFuncT(&p.mux, func() bool {
		if p.stopped {
			return true
		}
		p.pending.Add(1)
		return false
	})
	if stopped {
		return ErrExecutorStopped
	}
	select {
	case p.tasks <- task:
		p.pending.Done()
	default:
		go func() {
			defer p.pending.Done()
			p.tasks <- task
		}()
	}
	return nil
}

// Stop prevents further submissions and lets the workers finish the tasks already accepted.
// It returns immediately. Use [WorkerPool.AwaitStop] to wait for the workers to exit.
func (p *WorkerPool) Stop() {
	p.stop.Do(func() {
		// Workers must be running to drain the queue.
		p.Start()
		LockFunc(&p.mux, func() {
			p.stopped = true
		})
		// No new tasks are counted once stopped is set.
		go func() {
			p.pending.Wait()
			close(p.tasks)
		}()
	})
}

// AwaitStop stops the pool and waits for all accepted tasks to finish, or for the context to be done.
func (p *WorkerPool) AwaitStop(ctx context.Context) error {
	p.Stop()
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) run(worker int) {
	defer p.done.Done()
	for task := range p.tasks {
		p.exec(worker, task)
	}
}

func (p *WorkerPool) exec(worker int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Int("worker", worker).
				Interface("panic", r).
				Msg("Recovered panic from worker pool task")
		}
	}()
	task()
}
