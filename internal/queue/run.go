package queue

import "sync"

// runState tracks the single processing loop an engine instance may run
type runState struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// begin moves idle to processing and returns the stop signal for this run
func (s *runState) begin() (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyProcessing
	}
	s.running = true
	s.stop = make(chan struct{})
	return s.stop, nil
}

// end returns to idle
func (s *runState) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.stop = nil
}

func (s *runState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// requestStop asks the running loop to exit at its next iteration boundary
func (s *runState) requestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotProcessing
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
