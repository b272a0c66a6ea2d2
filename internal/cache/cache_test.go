package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crochet/internal/daemon"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}
}

func TestLedger_UpToDate(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLedger(filepath.Join(dir, "ledger"))
	require.NoError(t, err)
	out := filepath.Join(dir, "out", "a.jar")
	writeFile(t, out, "jar", time.Time{})

	key := Key("final", out)
	require.False(t, l.IsUpToDate(key, "fp1", []string{out}), "no record yet")

	require.NoError(t, l.Record(key, "fp1", []string{out}, time.Now()))
	require.True(t, l.IsUpToDate(key, "fp1", []string{out}))
	require.False(t, l.IsUpToDate(key, "fp2", []string{out}), "fingerprint changed")
	require.False(t, l.IsUpToDate(key, "fp1", nil), "destination set changed")

	// Touching the destination invalidates the record.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(out, later, later))
	require.False(t, l.IsUpToDate(key, "fp1", []string{out}))

	require.NoError(t, l.Record(key, "fp1", []string{out}, time.Now()))
	require.NoError(t, os.Remove(out))
	require.False(t, l.IsUpToDate(key, "fp1", []string{out}), "destination deleted")
}

func TestLedger_CorruptRecordIsNotUpToDate(t *testing.T) {
	dir := t.TempDir()
	l := &Ledger{Dir: dir}
	out := filepath.Join(dir, "a.jar")
	writeFile(t, out, "jar", time.Time{})
	require.NoError(t, l.Record("k", "fp", []string{out}, time.Now()))

	cases := map[string]string{
		"garbage":       "not json",
		"unknown field": `{"key":"k","fingerprint":"fp","destinations":[],"recorded_at":"2024-01-01T00:00:00Z","extra":1}`,
		"trailing":      `{"key":"k","fingerprint":"fp","destinations":[],"recorded_at":"2024-01-01T00:00:00Z"} {}`,
		"wrong key":     `{"key":"other","fingerprint":"fp","destinations":[],"recorded_at":"2024-01-01T00:00:00Z"}`,
		"null dests":    `{"key":"k","fingerprint":"fp","destinations":null,"recorded_at":"2024-01-01T00:00:00Z"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			writeFile(t, filepath.Join(dir, "k.json"), content, time.Time{})
			if l.IsUpToDate("k", "fp", nil) {
				t.Fatalf("corrupt record reported up to date")
			}
			if _, err := l.Load("k"); err == nil {
				t.Fatalf("Load accepted corrupt record")
			}
		})
	}
}

func TestLedger_RejectsBadKeys(t *testing.T) {
	l := &Ledger{Dir: t.TempDir()}
	for _, key := range []string{"", "a/b", "..", `a\b`} {
		if err := l.Record(key, "fp", nil, time.Now()); err == nil {
			t.Errorf("Record(%q) succeeded", key)
		}
		if l.IsUpToDate(key, "fp", nil) {
			t.Errorf("IsUpToDate(%q) = true", key)
		}
	}
	require.NoError(t, l.Forget("missing"))
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tiny")
	b := filepath.Join(dir, "b.jar")
	writeFile(t, a, "mappings", time.Time{})
	writeFile(t, b, "jar", time.Time{})

	f, err := NewFingerprinter(0)
	require.NoError(t, err)

	fp1, err := f.Fingerprint([]byte("doc"), []byte("manifest"), []string{a, b})
	require.NoError(t, err)
	fp2, err := f.Fingerprint([]byte("doc"), []byte("manifest"), []string{b, a, a})
	require.NoError(t, err)
	require.Equal(t, fp1, fp2, "file order and duplicates do not matter")
	require.Equal(t, 2, f.digests.Len())

	fp3, err := f.Fingerprint([]byte("docm"), []byte("anifest"), []string{a, b})
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3, "fields are length-prefixed")

	writeFile(t, a, "mappings v2", time.Now().Add(time.Minute))
	fp4, err := f.Fingerprint([]byte("doc"), []byte("manifest"), []string{a, b})
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp4, "content change")

	missing := filepath.Join(dir, "missing.jar")
	fp5, err := f.Fingerprint([]byte("doc"), []byte("manifest"), []string{a, b, missing})
	require.NoError(t, err)
	require.NotEqual(t, fp4, fp5)
}

func TestKey(t *testing.T) {
	require.Equal(t, Key("a", "b"), Key("a", "b"))
	require.NotEqual(t, Key("ab"), Key("a", "b"))
	require.NotEqual(t, Key("a", "b"), Key("b", "a"))
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * day)
	recent := now.Add(-2 * day)

	writeFile(t, filepath.Join(dir, "assets", "x", "old.bin"), "", old)
	writeFile(t, filepath.Join(dir, "assets", "new.bin"), "", recent)
	writeFile(t, filepath.Join(dir, "outputs", "t", "y", "old.jar"), "", old)
	writeFile(t, filepath.Join(dir, "locks", "a", "b.lock"), "", recent)
	writeFile(t, filepath.Join(dir, "locks", "a", "b.txt"), "", old)
	writeFile(t, filepath.Join(dir, "ledger", "k.json"), "{}", old)
	writeFile(t, filepath.Join(dir, "other", "old.bin"), "", old)

	m, err := NewManager(dir, DefaultRetention(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	report, err := m.Sweep(now)
	require.NoError(t, err)

	want := []string{"assets/x/old.bin", "outputs/t/y/old.jar", "locks/a/b.lock", "ledger/k.json"}
	if diff := cmp.Diff(want, report.Removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	for _, kept := range []string{"assets/new.bin", "locks/a/b.txt", "other/old.bin"} {
		if _, err := os.Stat(filepath.Join(dir, kept)); err != nil {
			t.Errorf("%s should be kept: %v", kept, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "outputs", "t")); !os.IsNotExist(err) {
		t.Errorf("empty output dirs should be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "outputs")); err != nil {
		t.Errorf("outputs root should be kept: %v", err)
	}
}

func TestSweep_ZeroDisables(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(dir, "assets", "old.bin"), "", now.Add(-400*day))

	m, err := NewManager(dir, Retention{OutputsDays: 1, LocksDays: 1}, nil)
	require.NoError(t, err)
	report, err := m.Sweep(now)
	require.NoError(t, err)
	require.Empty(t, report.Removed)
}

func TestMaybeSweep_OncePerDay(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, DefaultRetention(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	now := time.Now()

	ran, err := m.MaybeSweep(now)
	require.NoError(t, err)
	require.True(t, ran)

	ran, err = m.MaybeSweep(now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ran, "marker is fresh")

	ran, err = m.MaybeSweep(now.Add(25 * time.Hour))
	require.NoError(t, err)
	require.True(t, ran)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager("", DefaultRetention(), nil)
	require.Error(t, err)
	_, err = NewManager(t.TempDir(), Retention{AssetsDays: -1, LocksDays: -2}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "assets_days")
	require.Contains(t, err.Error(), "locks_days")
}

type recordingExecutor struct {
	calls [][]string
	fail  map[string]bool
}

func (e *recordingExecutor) Execute(_ context.Context, args []string) (daemon.Reply, error) {
	e.calls = append(e.calls, append([]string(nil), args...))
	if e.fail[args[0]] {
		return daemon.Reply{Exit: 1}, &daemon.WorkerFailedError{Args: args, ExitCode: 1}
	}
	return daemon.Reply{}, nil
}

func TestMaintain(t *testing.T) {
	m, err := NewManager(t.TempDir(), DefaultRetention(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	m.TrackCacheDir("/cache/b")
	m.TrackTaskRecord("/cache/a", "/runs/2/record.json")
	m.TrackTaskRecord("/cache/a", "/runs/1/record.json")
	m.TrackTaskRecord("/cache/a", "/runs/1/record.json")
	require.Equal(t, []string{"/cache/a", "/cache/b"}, m.Tracked())

	exec := &recordingExecutor{}
	require.NoError(t, m.Maintain(context.Background(), exec))

	clean := []string{"clean", "--asset-duration=30", "--output-duration=30", "--lock-duration=1"}
	want := [][]string{
		{"--cache-dir=/cache/a", "mark", "/runs/1/record.json", "/runs/2/record.json"},
		append([]string{"--cache-dir=/cache/a"}, clean...),
		append([]string{"--cache-dir=/cache/b"}, clean...),
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, m.Tracked())
}

func TestMaintain_AggregatesFailures(t *testing.T) {
	m, err := NewManager(t.TempDir(), DefaultRetention(), nil)
	require.NoError(t, err)
	m.TrackCacheDir("/cache/a")
	m.TrackCacheDir("/cache/b")

	exec := &recordingExecutor{fail: map[string]bool{"--cache-dir=/cache/a": true, "--cache-dir=/cache/b": true}}
	err = m.Maintain(context.Background(), exec)
	require.Error(t, err)
	require.True(t, errors.Is(err, daemon.ErrWorkerFailed))
	require.Equal(t, 2, strings.Count(err.Error(), "maintain /cache/"))
	require.Equal(t, []string{"/cache/a", "/cache/b"}, m.Tracked(), "failed dirs stay tracked")
}
