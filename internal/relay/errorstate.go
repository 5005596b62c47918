package relay

import "sync"

// ErrorState records the first failure seen by a handle. It is never cleared.
type ErrorState struct {
	mu  sync.RWMutex
	err error
}

// Set records err if no failure has been recorded yet and reports whether it did.
func (s *ErrorState) Set(err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = err
	return true
}

func (s *ErrorState) InError() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err != nil
}

func (s *ErrorState) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Message is the recorded error text, or "" when there is none.
func (s *ErrorState) Message() string {
	if err := s.Err(); err != nil {
		return err.Error()
	}
	return ""
}
