package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// intakeTask is one submitted order waiting for its matching pass, together
// with the actor recorded on the audit entries the pass produces.
type intakeTask struct {
	order *Order
	actor Actor
}

// intakeQueue serializes matching: submissions append without blocking and a
// single worker drains them strictly FIFO, finishing each order's matching
// pass before starting the next. This is the only concurrency boundary the
// book needs — no two matching passes ever run at once.
type intakeQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []intakeTask
	active  bool
	closed  bool

	handle func(ctx context.Context, o *Order, actor Actor) error
	log    *zap.Logger
	done   chan struct{}
}

func newIntakeQueue(log *zap.Logger, handle func(ctx context.Context, o *Order, actor Actor) error) *intakeQueue {
	q := &intakeQueue{
		handle: handle,
		log:    log,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// submit appends the order and returns immediately.
func (q *intakeQueue) submit(o *Order, actor Actor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warn("intake queue closed, dropping order", zap.String("order_id", o.Id.String()))
		return
	}
	q.pending = append(q.pending, intakeTask{order: o, actor: actor})
	q.cond.Broadcast()
}

func (q *intakeQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.active = true
		q.mu.Unlock()

		// A failed matching pass never fails the submission that queued it:
		// the order stays on the book and the worker moves on.
		if err := q.handle(context.Background(), task.order, task.actor); err != nil {
			q.log.Error("matching pass failed",
				zap.String("order_id", task.order.Id.String()),
				zap.Error(err))
		}

		q.mu.Lock()
		q.active = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// wait blocks until every queued order has finished its matching pass.
func (q *intakeQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || q.active {
		q.cond.Wait()
	}
}

// close stops the worker after it drains what is already queued.
func (q *intakeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
