// Package worker runs fire-and-forget maintenance tasks (session renewals,
// last-seen stamps) on a bounded pool so request handlers never block on
// them. When the queue is full the task is dropped and logged; every task
// submitted here is safe to lose.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of background work. The context carries the per-task
// deadline; tasks report failure through the returned error, which is logged
// and otherwise ignored.
type Task func(ctx context.Context) error

// Pool executes submitted tasks on a fixed set of goroutines.
type Pool struct {
	tasks   chan queuedTask
	timeout time.Duration
	log     *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type queuedTask struct {
	name string
	run  Task
}

// New starts a pool of size goroutines with a queue of buffer pending tasks.
// Each task runs under a context that expires after timeout.
func New(size, buffer int, timeout time.Duration, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		tasks:   make(chan queuedTask, buffer),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Submit enqueues a task without blocking. If the queue is full the task is
// dropped and a warning logged. Submitting to a closed pool panics; close the
// pool only after all submitters have stopped.
func (p *Pool) Submit(name string, task Task) {
	select {
	case p.tasks <- queuedTask{name: name, run: task}:
	default:
		p.log.Warn("background task dropped, queue full", "task", name)
	}
}

// Close stops accepting tasks, drains the queue, and waits for in-flight
// tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for qt := range p.tasks {
		p.execute(qt)
	}
}

func (p *Pool) execute(qt queuedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", "task", qt.name, "panic", r)
		}
	}()
	if err := qt.run(ctx); err != nil {
		p.log.Warn("background task failed", "task", qt.name, "error", err)
	}
}
