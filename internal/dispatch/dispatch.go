// Package dispatch provides the executors that feed callbacks are marshalled
// onto before they touch shared state.
package dispatch

import (
	"sync"
)

// Executor runs submitted functions. Implementations decide on which
// goroutine; callers rely only on Submit never blocking on the function
// itself.
type Executor interface {
	Submit(fn func())
}

// Immediate runs fn on the submitting goroutine.
type Immediate struct{}

func (Immediate) Submit(fn func()) { fn() }

// Serial runs functions one at a time, in submission order, on a single
// goroutine. It plays the role of the UI thread.
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewSerial() *Serial {
	s := &Serial{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Serial) Submit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

// Sync blocks until every function submitted before the call has run.
func (s *Serial) Sync() {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.queue = append(s.queue, func() { close(ch) })
	s.cond.Signal()
	s.mu.Unlock()
	<-ch
}

// Close drains queued work and stops the goroutine. Later submissions are
// dropped.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Signal()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
