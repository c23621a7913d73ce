package usecase

import "sync"

// finalSignal is the one-shot "wake me when the final transcript arrives"
// synchronization point shared between the recognizer event handler and a
// blocked End call. A fresh signal is allocated on every Begin so a stale
// fire from a superseded session can never wake a new waiter.
type finalSignal struct {
	once sync.Once
	ch   chan struct{}

	mu   sync.Mutex
	text string
}

func newFinalSignal() *finalSignal {
	return &finalSignal{ch: make(chan struct{})}
}

// fire records text and releases any current or future waiter. Only the
// first fire wins; later calls are ignored.
func (s *finalSignal) fire(text string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.text = text
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *finalSignal) done() <-chan struct{} {
	return s.ch
}

func (s *finalSignal) finalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}
