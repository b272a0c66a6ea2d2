package daemon

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkerFailed matches every *WorkerFailedError.
	ErrWorkerFailed = errors.New("worker failed")

	ErrSessionClosed = errors.New("daemon session is closed")

	errExited = errors.New("worker process exited")
)

// WorkerFailedError reports an invocation that did not succeed: a non-zero
// exit, a broken pipe or a worker that died.
type WorkerFailedError struct {
	Args     []string
	ExitCode int
	Output   string
	Stderr   string
	Err      error
}

func (e *WorkerFailedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", ErrWorkerFailed, strings.Join(e.Args, " "))
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	} else {
		fmt.Fprintf(&sb, ": exit %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

func (e *WorkerFailedError) Is(target error) bool { return target == ErrWorkerFailed }

func (e *WorkerFailedError) Unwrap() error { return e.Err }
