package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Loop serializes all core-state mutations onto a single goroutine, so the
// registry, price cache and aggregation engine need no locking of their own.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *zap.Logger
}

func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		tasks:  make(chan func(), 1024),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes queued tasks until ctx is canceled. Blocking.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Do queues a task, waiting for queue room if it has to. Interest
// mutations, position loads and connectivity transitions go through here:
// shedding one would leave refcounts or the exposed state permanently
// wrong, so they are never dropped. Returns without queueing once the
// loop has stopped.
func (l *Loop) Do(task func()) {
	select {
	case l.tasks <- task:
	case <-l.done:
	}
}

// TryDo queues a task if the queue has room and drops it otherwise. Only
// price applications take this path: for prices, "latest" beats "all", and
// the next accepted tick supersedes whatever was shed.
func (l *Loop) TryDo(task func()) {
	select {
	case l.tasks <- task:
	default:
		l.logger.Warn("Event loop saturated, dropping tick task")
	}
}

// DoWait runs the task on the loop and blocks until it completes. Used by
// synchronous reads (GetPrice, Connectivity) issued from other goroutines.
// Returns without running the task once the loop has stopped.
func (l *Loop) DoWait(task func()) {
	ran := make(chan struct{})
	select {
	case l.tasks <- func() {
		task()
		close(ran)
	}:
	case <-l.done:
		return
	}
	select {
	case <-ran:
	case <-l.done:
	}
}
