package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Worker is one running worker process.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrSink
	logger *zap.SugaredLogger
	grace  time.Duration

	// mu serializes invocations.
	mu     sync.Mutex
	nextID int64

	// replies carries every reply line read from stdout. It is closed once
	// stdout is exhausted, which happens only after the process has exited.
	replies chan Reply

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// StartWorker spawns the worker process described by spec.
func StartWorker(spec LaunchSpec, logger *zap.SugaredLogger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	argv := spec.Command()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	// Own process group, so a kill takes the worker's children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	outR, outW := io.Pipe()
	cmd.Stdout = outW
	sink := &stderrSink{logger: logger}
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", argv[0], err)
	}
	w := &Worker{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  sink,
		logger:  logger,
		grace:   spec.closeGrace(),
		replies: make(chan Reply, 16),
		done:    make(chan struct{}),
	}
	logger.Infow("worker started", "pid", cmd.Process.Pid, "executable", argv[0])

	go w.drain(outR)

	go func() {
		err := cmd.Wait()
		logger.Debugw("worker exited", "pid", cmd.Process.Pid, "error", err)
		w.waitErr = err
		outW.CloseWithError(errExited)
		close(w.done)
	}()
	return w, nil
}

// Alive reports whether the worker process is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker process has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Execute sends one invocation and waits for its reply. There is no timeout;
// cancelling ctx kills the worker and the next Session.Start replaces it.
func (w *Worker) Execute(ctx context.Context, args []string) (Reply, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fail := func(reply Reply, err error) (Reply, error) {
		return reply, &WorkerFailedError{
			Args:     append([]string(nil), args...),
			ExitCode: reply.Exit,
			Output:   reply.Output,
			Stderr:   w.stderr.String(),
			Err:      err,
		}
	}

	if !w.Alive() {
		return fail(Reply{Exit: -1}, w.exitErr())
	}

	w.nextID++
	req := Request{ID: w.nextID, Args: args}
	line, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}
	w.logger.Debugw("worker request", "id", req.ID, "args", args)
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return fail(Reply{Exit: -1}, fmt.Errorf("write request: %w", err))
	}

	type result struct {
		reply Reply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := w.readReply(req.ID)
		ch <- result{reply, err}
	}()

	select {
	case <-ctx.Done():
		w.kill()
		<-ch
		return fail(Reply{Exit: -1}, fmt.Errorf("execution cancelled: %w", ctx.Err()))
	case r := <-ch:
		if r.err != nil {
			return fail(Reply{Exit: -1}, r.err)
		}
		if r.reply.Exit != 0 {
			return fail(r.reply, nil)
		}
		return r.reply, nil
	}
}

// drain reads stdout for the whole life of the process. Reply lines go to
// w.replies; anything else is logged and dropped. Stdout must never stall, or
// the process cannot be reaped.
func (w *Worker) drain(r io.Reader) {
	defer close(w.replies)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		var reply Reply
		if err := json.Unmarshal(line, &reply); err != nil || reply.ID == 0 {
			w.logger.Debugw("worker", "stdout", string(line))
			continue
		}
		select {
		case w.replies <- reply:
		default:
			w.logger.Warnw("dropping unsolicited worker reply", "id", reply.ID)
		}
	}
	if err := sc.Err(); err != nil && err != errExited {
		w.logger.Warnw("worker stdout", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// readReply waits for the reply to id, skipping stale replies to earlier
// invocations.
func (w *Worker) readReply(id int64) (Reply, error) {
	for reply := range w.replies {
		if reply.ID == id {
			return reply, nil
		}
		w.logger.Debugw("stale worker reply", "id", reply.ID, "want", id)
	}
	return Reply{}, fmt.Errorf("read reply: %w", w.exitErr())
}

// exitErr describes the exited process. Only valid once stdout is exhausted
// or w.done is closed.
func (w *Worker) exitErr() error {
	if w.waitErr != nil {
		return fmt.Errorf("%w: %v", errExited, w.waitErr)
	}
	return errExited
}

func (w *Worker) kill() {
	if w.cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
	<-w.done
}

// Close asks the worker to exit by closing its stdin, and kills it if it has
// not exited within the grace period. Close is idempotent.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		_ = w.stdin.Close()
		select {
		case <-w.done:
		case <-time.After(w.grace):
			w.logger.Warnw("worker did not exit after stdin closed, killing", "pid", w.cmd.Process.Pid, "grace", w.grace)
			w.kill()
		}
	})
	<-w.done
	return nil
}
