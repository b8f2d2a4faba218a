package services

import (
	"sync"
	"sync/atomic"
)

// StopSignal is the process-wide stop flag. The first Stop call wins; its
// error is kept and Done is closed.
type StopSignal struct {
	stopping atomic.Bool
	once     sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// NewStopSignal creates a new StopSignal
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Stop requests shutdown. err is nil for a requested shutdown.
func (s *StopSignal) Stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.stopping.Store(true)
		close(s.done)
	})
}

// IsStopping reports whether Stop has been called
func (s *StopSignal) IsStopping() bool {
	return s.stopping.Load()
}

// Done is closed once Stop has been called
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}

// Err returns the error Stop was called with
func (s *StopSignal) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
