// Package scheduler implements the max-priority FIFO described in spec
// §4.3: a bounded queue keyed by priority, ties broken by insertion order,
// drained by a worker pool. Each handler returns a (possibly empty) set of
// follow-up commands which re-enter the same queue.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/forestrie/go-sectiond/command"
)

// ErrQueueFull is returned by Enqueue when the bounded queue is at
// capacity; callers apply backpressure rather than blocking the caller
// indefinitely.
var ErrQueueFull = errors.New("scheduler: queue is full")

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("scheduler: scheduler is stopped")

// Handler executes one command and returns any follow-up commands it
// produces.
type Handler func(ctx context.Context, c command.Command) ([]command.Command, error)

// item is one entry in the priority heap: the command plus the insertion
// sequence used to break priority ties in FIFO order.
type item struct {
	cmd command.Command
	seq uint64
}

type priorityQueue []item

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].cmd.Priority != q[j].cmd.Priority {
		return q[i].cmd.Priority > q[j].cmd.Priority // max-priority first
	}
	return q[i].seq < q[j].seq // insertion order tiebreak
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// Scheduler is a bounded, max-priority FIFO drained by a fixed pool of
// workers.
type Scheduler struct {
	handler Handler
	backoff func() backoff.BackOff

	mu       sync.Mutex
	cond     *sync.Cond
	q        priorityQueue
	capacity int
	nextSeq  uint64
	stopped  bool

	wg  sync.WaitGroup
	log logger.Logger
}

// New constructs a Scheduler with the given bounded capacity and worker
// pool size. backoffFactory, if non-nil, is used to retry a handler that
// returns an error before the command is dropped; a nil factory means no
// retry.
func New(capacity, workers int, handler Handler, backoffFactory func() backoff.BackOff) *Scheduler {
	s := &Scheduler{
		handler:  handler,
		backoff:  backoffFactory,
		capacity: capacity,
		log:      logger.Sugar.WithServiceName("scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue adds c to the queue. It fails with ErrQueueFull if the queue is
// at capacity, or ErrStopped once Stop has been called.
func (s *Scheduler) Enqueue(c command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.capacity > 0 && len(s.q) >= s.capacity {
		return ErrQueueFull
	}
	heap.Push(&s.q, item{cmd: c, seq: s.nextSeq})
	s.nextSeq++
	s.cond.Signal()
	return nil
}

// Stop signals every worker to drain the remaining queue and exit once
// empty; it does not accept new commands afterward. Stop blocks until all
// workers have exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		c, ok := s.dequeue()
		if !ok {
			return
		}
		follow, err := s.runWithRetry(c)
		if err != nil {
			s.log.Infof("dropping command %s (id %d): %v", c.Kind, c.ID, err)
			continue // handler exhausted retries; the command is dropped, not requeued
		}
		for _, f := range follow {
			_ = s.Enqueue(f) // best-effort: a full queue under shutdown drops follow-ups
		}
	}
}

func (s *Scheduler) runWithRetry(c command.Command) ([]command.Command, error) {
	if s.backoff == nil {
		return s.handler(context.Background(), c)
	}

	var follow []command.Command
	op := func() error {
		var err error
		follow, err = s.handler(context.Background(), c)
		return err
	}
	if err := backoff.Retry(op, s.backoff()); err != nil {
		return nil, fmt.Errorf("scheduler: command %s exhausted retries: %w", c.Kind, err)
	}
	return follow, nil
}

// dequeue blocks until an item is available or the scheduler has stopped
// and the queue is empty.
func (s *Scheduler) dequeue() (command.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.q) == 0 {
		if s.stopped {
			return command.Command{}, false
		}
		s.cond.Wait()
	}
	it := heap.Pop(&s.q).(item)
	return it.cmd, true
}

// Len reports the number of commands currently queued, for diagnostics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.q)
}
