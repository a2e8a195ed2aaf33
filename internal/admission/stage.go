package admission

import (
	"context"
	"sync"

	"github.com/cricamfe/vivid/internal/verrors"
)

// Stage is the per-device, per-stage admission unit: a bounded core
// count plus a bounded FIFO of waiters. A waiter that arrived earlier is
// always admitted before one that arrived later, even across spurious
// wakeups. The FIFO is a ticket queue, not a bare condition variable, so
// ordering never depends on goroutine scheduling.
type Stage struct {
	mu         sync.Mutex
	cond       *sync.Cond
	totalCores int
	usedCores  int
	maxQueue   int
	fifo       []uint64
	nextTicket uint64
}

// NewStage returns a stage admission unit with the given core count and
// wait-queue bound.
func NewStage(cores, maxQueue int) *Stage {
	s := &Stage{totalCores: cores, maxQueue: maxQueue}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// TryAcquireCore attempts a non-blocking acquisition. Never blocks.
func (s *Stage) TryAcquireCore() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalCores > 0 && s.usedCores < s.totalCores {
		s.usedCores++
		return AcquiredCore
	}
	return Failed
}

// AcquireViaQueue enqueues the caller and blocks until it reaches the front
// of the FIFO and a core is free, or ctx expires. If the FIFO is already at
// capacity, it returns Failed immediately without blocking.
func (s *Stage) AcquireViaQueue(ctx context.Context) Status {
	s.mu.Lock()
	if s.totalCores == 0 || s.maxQueue == 0 {
		s.mu.Unlock()
		return Failed
	}
	if len(s.fifo) >= s.maxQueue {
		s.mu.Unlock()
		return Failed
	}

	ticket := s.nextTicket
	s.nextTicket++
	s.fifo = append(s.fifo, ticket)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-stop:
		}
	}()

	for !(len(s.fifo) > 0 && s.fifo[0] == ticket && s.usedCores < s.totalCores) {
		if ctx.Err() != nil {
			s.removeTicketLocked(ticket)
			s.mu.Unlock()
			s.cond.Broadcast()
			return Failed
		}
		s.cond.Wait()
	}

	s.usedCores++
	s.fifo = s.fifo[1:]
	s.mu.Unlock()
	return Enqueued
}

func (s *Stage) removeTicketLocked(ticket uint64) {
	for i, t := range s.fifo {
		if t == ticket {
			s.fifo = append(s.fifo[:i], s.fifo[i+1:]...)
			return
		}
	}
}

// Release returns a core to the pool and wakes every waiter so they can
// re-check the front-of-FIFO condition.
func (s *Stage) Release() {
	s.mu.Lock()
	if s.usedCores <= 0 {
		s.mu.Unlock()
		verrors.Panic("stage release: used_cores would go negative")
	}
	s.usedCores--
	s.mu.Unlock()
	s.cond.Broadcast()
}

// SetTotalCores reconfigures the core count. Safe against concurrent
// acquires; waiters are woken so they observe the new capacity.
func (s *Stage) SetTotalCores(cores int) {
	s.mu.Lock()
	s.totalCores = cores
	s.mu.Unlock()
	s.cond.Broadcast()
}

// SetMaxQueue reconfigures the wait-queue bound.
func (s *Stage) SetMaxQueue(maxQueue int) {
	s.mu.Lock()
	s.maxQueue = maxQueue
	s.mu.Unlock()
	s.cond.Broadcast()
}

// UsedCores returns the current in-use core count.
func (s *Stage) UsedCores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedCores
}

// TotalCores returns the configured core count.
func (s *Stage) TotalCores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCores
}

// QueueLen returns the current number of waiters.
func (s *Stage) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fifo)
}

// MaxQueue returns the configured wait-queue bound.
func (s *Stage) MaxQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxQueue
}
