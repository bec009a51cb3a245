package device

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/ICIbrahim/AliceVision/logging"
)

type queueOp struct {
	name   string
	run    func() error
	marker chan struct{}
}

// Queue executes ops one at a time in submission order, the way a device
// stream would. The host never waits on Enqueue; it joins the queue only
// through Sync. The first op failure latches: later ops are skipped and
// every Sync from then on reports the original error.
type Queue struct {
	name   string
	clk    clock.Clock
	logger logging.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	fifo       []queueOp
	err        error
	closed     bool
	workerDone chan struct{}
}

// NewQueue starts a queue worker. A nil clk falls back to the wall clock.
func NewQueue(name string, clk clock.Clock, logger logging.Logger) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	q := &Queue{
		name:       name,
		clk:        clk,
		logger:     logger,
		workerDone: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	goutils.PanicCapturingGo(q.worker)
	return q
}

// Enqueue appends a named op without blocking. Enqueueing on a closed
// queue latches an error instead of running anything.
func (q *Queue) Enqueue(name string, run func() error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		if q.err == nil {
			q.err = errors.Errorf("queue %q: op %q enqueued after close", q.name, name)
		}
		return
	}
	q.fifo = append(q.fifo, queueOp{name: name, run: run})
	q.cond.Signal()
}

// Sync blocks until every previously enqueued op has executed and returns
// the first failure, if any.
func (q *Queue) Sync() error {
	q.mu.Lock()
	if q.closed {
		defer q.mu.Unlock()
		if q.err != nil {
			return q.err
		}
		return errors.Errorf("queue %q is closed", q.name)
	}
	marker := make(chan struct{})
	q.fifo = append(q.fifo, queueOp{name: "sync", marker: marker})
	q.cond.Signal()
	q.mu.Unlock()

	<-marker
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Err reports the latched failure without blocking.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close drains the queue, stops the worker, and reports the latched
// failure. Closing twice is safe.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()

	<-q.workerDone
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *Queue) worker() {
	defer close(q.workerDone)
	for {
		q.mu.Lock()
		for len(q.fifo) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.fifo) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.fifo[0]
		q.fifo = q.fifo[1:]
		skip := q.err != nil
		q.mu.Unlock()

		if next.marker != nil {
			close(next.marker)
			continue
		}
		if skip {
			q.logger.Debugw("skipping op after earlier failure", "queue", q.name, "op", next.name)
			continue
		}
		start := q.clk.Now()
		if err := runProtected(next.run); err != nil {
			q.mu.Lock()
			if q.err == nil {
				q.err = errors.Wrapf(err, "queue %q: op %q", q.name, next.name)
			}
			q.mu.Unlock()
			continue
		}
		q.logger.Debugw("op done", "queue", q.name, "op", next.name, "took", q.clk.Since(start))
	}
}

func runProtected(run func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("op panic: %v", r)
		}
	}()
	return run()
}
