package daemon

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

const stderrTailSize = 64 * 1024

// stderrSink logs worker stderr line by line and keeps the most recent bytes
// for error reports.
type stderrSink struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	tail    []byte
	partial []byte
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, p...)
	if over := len(s.tail) - stderrTailSize; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(s.partial[:i], "\r"); len(line) > 0 {
			s.logger.Infow("worker", "stderr", string(line))
		}
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) > stderrTailSize {
		s.partial = s.partial[len(s.partial)-stderrTailSize:]
	}
	return len(p), nil
}

func (s *stderrSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.tail)
}
