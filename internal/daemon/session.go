package daemon

import (
	"sync"

	"go.uber.org/zap"
)

// Session owns at most one live worker, started on first use and shared by
// every later invocation.
type Session struct {
	Logger *zap.SugaredLogger

	mu     sync.Mutex
	worker *Worker
	closed bool
	starts int
}

func NewSession(logger *zap.SugaredLogger) *Session {
	return &Session{Logger: logger}
}

// Start returns the live worker, spawning one if there is none or the
// previous one has died.
func (s *Session) Start(spec LaunchSpec) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.worker != nil && s.worker.Alive() {
		return s.worker, nil
	}
	if s.worker != nil {
		s.logger().Warnw("worker died, starting a new one")
	}
	w, err := StartWorker(spec, s.logger())
	if err != nil {
		return nil, err
	}
	s.worker = w
	s.starts++
	return w, nil
}

// Current returns the live worker, or nil if none is running.
func (s *Session) Current() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil && s.worker.Alive() {
		return s.worker
	}
	return nil
}

// Starts reports how many worker processes the session has spawned.
func (s *Session) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Close shuts the worker down. Later Start calls fail; Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.closed = true
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

func (s *Session) logger() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}
