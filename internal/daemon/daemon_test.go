package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const stubEnv = "CROCHET_DAEMON_STUB"

// TestMain lets the test binary double as the worker: when stubEnv is set the
// process serves the protocol on stdio instead of running tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(stubEnv); mode != "" {
		err := Serve(context.Background(), os.Stdin, os.Stdout, stubHandler)
		if mode == "stubborn" {
			time.Sleep(time.Hour)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func stubHandler(_ context.Context, args []string) (int, string) {
	if len(args) == 0 {
		return 2, "no command"
	}
	switch args[0] {
	case "echo":
		return 0, strings.Join(args[1:], " ")
	case "argv":
		return 0, strings.Join(os.Args[1:], " ")
	case "pid":
		return 0, strconv.Itoa(os.Getpid())
	case "fail":
		fmt.Fprintln(os.Stderr, "stub stderr line")
		return 3, "boom"
	case "chatter":
		go func() {
			time.Sleep(50 * time.Millisecond)
			fmt.Fprintln(os.Stdout, "trailing log line")
		}()
		return 0, "ok"
	case "die":
		os.Exit(7)
	case "sleep":
		time.Sleep(time.Hour)
	}
	return 2, "unknown command " + args[0]
}

func stubSpec(mode string) LaunchSpec {
	return LaunchSpec{
		Executable: os.Args[0],
		Properties: map[string]string{"b.prop": "2", "a.prop": "1"},
		Env:        []string{stubEnv + "=" + mode},
		CloseGrace: 200 * time.Millisecond,
	}
}

func TestLaunchSpecCommand(t *testing.T) {
	spec := LaunchSpec{
		Properties: map[string]string{"z": "1", "a": "x y"},
		JVMOptions: []string{"-Xmx2G"},
		Classpath:  []string{"/a.jar", "/b.jar"},
		MainClass:  "dev.example.Main",
		Args:       []string{"daemon"},
	}
	want := []string{"java", "-Da=x y", "-Dz=1", "-Xmx2G", "-cp", "/a.jar" + string(os.PathListSeparator) + "/b.jar", "dev.example.Main", "daemon"}
	require.Equal(t, want, spec.Command())
}

func TestSession_StartIsIdempotent(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()

	w1, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)
	w2, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)
	require.Same(t, w1, w2)
	require.Equal(t, 1, s.Starts())

	reply, err := w1.Execute(context.Background(), []string{"argv"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(reply.Output, "-Da.prop=1 -Db.prop=2"), "argv: %q", reply.Output)
}

func TestSession_ConcurrentStartSpawnsOnce(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()

	var wg sync.WaitGroup
	workers := make([]*Worker, 8)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := s.Start(stubSpec("serve"))
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			workers[i] = w
		}(i)
	}
	wg.Wait()
	for _, w := range workers {
		require.Same(t, workers[0], w)
	}
	require.Equal(t, 1, s.Starts())
}

func TestWorker_SerializesCallers(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()
	w, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := w.Execute(context.Background(), []string{"echo", strconv.Itoa(i)})
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			if reply.Output != strconv.Itoa(i) {
				t.Errorf("caller %d got reply %q", i, reply.Output)
			}
		}(i)
	}
	wg.Wait()
}

func TestWorker_NonZeroExit(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()
	w, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)

	_, err = w.Execute(context.Background(), []string{"fail", "--flag"})
	require.ErrorIs(t, err, ErrWorkerFailed)
	var wf *WorkerFailedError
	require.True(t, errors.As(err, &wf))
	require.Equal(t, 3, wf.ExitCode)
	require.Equal(t, "boom", wf.Output)
	require.Equal(t, []string{"fail", "--flag"}, wf.Args)
	require.Contains(t, err.Error(), "exit 3")

	// The worker survives a failed invocation.
	reply, err := w.Execute(context.Background(), []string{"echo", "still here"})
	require.NoError(t, err)
	require.Equal(t, "still here", reply.Output)
	require.Eventually(t, func() bool {
		return strings.Contains(w.stderr.String(), "stub stderr line")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSession_RestartsDeadWorker(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()
	w1, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)

	_, err = w1.Execute(context.Background(), []string{"die"})
	require.ErrorIs(t, err, ErrWorkerFailed)
	require.ErrorIs(t, err, errExited)
	require.ErrorContains(t, err, "exit status 7")
	<-w1.Done()
	require.False(t, w1.Alive())

	_, err = w1.Execute(context.Background(), []string{"echo"})
	require.ErrorIs(t, err, ErrWorkerFailed)
	require.ErrorContains(t, err, "exit status 7")

	w2, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)
	require.NotSame(t, w1, w2)
	require.Equal(t, 2, s.Starts())
	_, err = w2.Execute(context.Background(), []string{"echo"})
	require.NoError(t, err)
}

func TestWorker_CancelKills(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	defer s.Close()
	w, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = w.Execute(ctx, []string{"sleep"})
	require.ErrorIs(t, err, ErrWorkerFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, w.Alive())
}

func TestClose_GraceThenKill(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	w, err := s.Start(stubSpec("stubborn"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Close())
	require.False(t, w.Alive())
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	require.NoError(t, s.Close(), "Close is idempotent")
	_, err = s.Start(stubSpec("serve"))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestClose_CleanExit(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	w, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.False(t, w.Alive())
	require.Nil(t, s.Current())
}

func TestClose_StdoutBetweenInvocations(t *testing.T) {
	s := NewSession(zaptest.NewLogger(t).Sugar())
	w, err := s.Start(stubSpec("serve"))
	require.NoError(t, err)

	reply, err := w.Execute(context.Background(), []string{"chatter"})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Output)
	time.Sleep(150 * time.Millisecond)

	reply, err = w.Execute(context.Background(), []string{"echo", "after"})
	require.NoError(t, err)
	require.Equal(t, "after", reply.Output)

	_, err = w.Execute(context.Background(), []string{"chatter"})
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	require.False(t, w.Alive())
}

func TestServe(t *testing.T) {
	in := strings.NewReader(`{"id":1,"args":["echo","a","b"]}` + "\n\n" + `{"id":2,"args":["nope"]}` + "\n")
	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), in, &out, stubHandler))
	require.Equal(t,
		`{"id":1,"exit":0,"output":"a b"}`+"\n"+`{"id":2,"exit":2,"output":"unknown command nope"}`+"\n",
		out.String())

	err := Serve(context.Background(), strings.NewReader("not json\n"), &out, stubHandler)
	require.Error(t, err)
}
