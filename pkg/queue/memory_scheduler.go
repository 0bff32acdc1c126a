package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned when enqueueing into a stopped scheduler
var ErrSchedulerStopped = errors.New("scheduler stopped")

// MemoryScheduler is an in-process scheduler backed by a slice and a worker
// pool. Delayed jobs are held by timers until due. Jobs do not survive a
// process restart.
type MemoryScheduler struct {
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	ready   []Job
	timers  map[*time.Timer]bool
	stopped bool

	handler Handler
	wg      sync.WaitGroup
}

// NewMemoryScheduler creates an in-process scheduler with the given worker
// pool size
func NewMemoryScheduler(workers int) *MemoryScheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &MemoryScheduler{
		workers: workers,
		timers:  make(map[*time.Timer]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue schedules a node execution, optionally delayed
func (s *MemoryScheduler) Enqueue(ctx context.Context, runID, nodeID string, delay time.Duration) error {
	job := Job{RunID: runID, NodeID: nodeID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if delay <= 0 {
		s.ready = append(s.ready, job)
		s.cond.Signal()
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.timers, timer)
		if s.stopped {
			return
		}
		s.ready = append(s.ready, job)
		s.cond.Signal()
	})
	s.timers[timer] = true

	return nil
}

// Start launches the worker pool
func (s *MemoryScheduler) Start(handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return errors.New("scheduler already started")
	}
	if s.stopped {
		return ErrSchedulerStopped
	}
	s.handler = handler

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return nil
}

// Stop shuts the worker pool down, cancels pending timers, and waits for
// in-flight jobs
func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]bool)
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *MemoryScheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.ready) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && len(s.ready) == 0 {
			s.mu.Unlock()
			return
		}
		job := s.ready[0]
		s.ready = s.ready[1:]
		s.mu.Unlock()

		if err := s.handler(context.Background(), job.RunID, job.NodeID); err != nil {
			log.Printf("job failed: run=%s node=%s: %v", job.RunID, job.NodeID, err)
		}
	}
}
