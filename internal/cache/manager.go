// Package cache manages the on-disk cache: retention sweeps, worker-side
// maintenance, and the ledger that decides whether a request can skip the
// worker entirely.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"crochet/internal/daemon"
)

const (
	// LastSweepMarker is touched in the cache dir after every sweep.
	LastSweepMarker = ".last-sweep"

	// LedgerDir is the ledger's directory under the cache dir.
	LedgerDir = "ledger"

	sweepInterval = 24 * time.Hour
	day           = 24 * time.Hour
)

// Retention is how many days an unused cache entry of each kind is kept.
// Zero disables removal of that kind.
type Retention struct {
	AssetsDays  int `yaml:"assets_days" json:"assets_days"`
	OutputsDays int `yaml:"outputs_days" json:"outputs_days"`
	LocksDays   int `yaml:"locks_days" json:"locks_days"`
}

func DefaultRetention() Retention {
	return Retention{AssetsDays: 30, OutputsDays: 30, LocksDays: 1}
}

func (r Retention) Validate() error {
	var errs []error
	if r.AssetsDays < 0 {
		errs = append(errs, errors.New("assets_days must be >= 0"))
	}
	if r.OutputsDays < 0 {
		errs = append(errs, errors.New("outputs_days must be >= 0"))
	}
	if r.LocksDays < 0 {
		errs = append(errs, errors.New("locks_days must be >= 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Executor runs one worker invocation. *daemon.Worker implements it.
type Executor interface {
	Execute(ctx context.Context, args []string) (daemon.Reply, error)
}

// Manager owns the on-disk cache layout:
//
//	<Dir>/assets/**          downloaded assets
//	<Dir>/outputs/**         task outputs
//	<Dir>/locks/**/*.lock    worker lock files
//	<Dir>/ledger/*.json      up-to-date ledger
//
// It sweeps stale entries locally and remembers which cache dirs and task
// records the worker should be told about before shutdown.
type Manager struct {
	Dir       string
	Retention Retention
	Logger    *zap.SugaredLogger

	mu      sync.Mutex
	dirs    map[string]struct{}
	records map[string]map[string]struct{}
}

func NewManager(dir string, retention Retention, logger *zap.SugaredLogger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := retention.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		Dir:       dir,
		Retention: retention,
		Logger:    logger,
		dirs:      map[string]struct{}{},
		records:   map[string]map[string]struct{}{},
	}, nil
}

// Ledger returns the ledger stored in the cache dir.
func (m *Manager) Ledger() *Ledger {
	return &Ledger{Dir: filepath.Join(m.Dir, LedgerDir)}
}

// SweepReport lists the entries a sweep removed, relative to the cache dir.
type SweepReport struct {
	Removed []string
}

type sweepRule struct {
	pattern string
	days    int
}

func (m *Manager) rules() []sweepRule {
	return []sweepRule{
		{"assets/**", m.Retention.AssetsDays},
		{"outputs/**", m.Retention.OutputsDays},
		{"locks/**/*.lock", m.Retention.LocksDays},
		{LedgerDir + "/*.json", m.Retention.OutputsDays},
	}
}

// Sweep removes every regular file matched by a retention rule whose mtime
// is older than the rule's window, then prunes directories left empty.
// Failures on individual entries do not stop the sweep.
func (m *Manager) Sweep(now time.Time) (SweepReport, error) {
	var report SweepReport
	var result *multierror.Error
	fsys := os.DirFS(m.Dir)

	for _, rule := range m.rules() {
		if rule.days == 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(rule.days) * day)
		matches, err := doublestar.Glob(fsys, rule.pattern)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("glob %s: %w", rule.pattern, err))
			continue
		}
		sort.Strings(matches)
		for _, rel := range matches {
			full := filepath.Join(m.Dir, filepath.FromSlash(rel))
			fi, err := os.Lstat(full)
			if err != nil {
				if !os.IsNotExist(err) {
					result = multierror.Append(result, err)
				}
				continue
			}
			if fi.IsDir() || !fi.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				result = multierror.Append(result, fmt.Errorf("remove %s: %w", rel, err))
				continue
			}
			report.Removed = append(report.Removed, rel)
		}
	}
	for _, root := range []string{"assets", "outputs", "locks"} {
		pruneEmptyDirs(filepath.Join(m.Dir, root))
	}

	m.Logger.Infow("cache swept", "dir", m.Dir, "removed", len(report.Removed))
	return report, result.ErrorOrNil()
}

// MaybeSweep runs Sweep only if the last one finished more than a day ago,
// and reports whether it ran.
func (m *Manager) MaybeSweep(now time.Time) (bool, error) {
	marker := filepath.Join(m.Dir, LastSweepMarker)
	if fi, err := os.Stat(marker); err == nil && now.Sub(fi.ModTime()) < sweepInterval {
		return false, nil
	}
	_, err := m.Sweep(now)
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := writeFileAtomicDurable(marker, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		result = multierror.Append(result, fmt.Errorf("write sweep marker: %w", err))
	} else if err := os.Chtimes(marker, now, now); err != nil {
		result = multierror.Append(result, fmt.Errorf("touch sweep marker: %w", err))
	}
	return true, result.ErrorOrNil()
}

// pruneEmptyDirs removes empty directories below root, deepest first. root
// itself is kept.
func pruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		// Fails harmlessly on non-empty directories.
		_ = os.Remove(dirs[i])
	}
}

// TrackCacheDir remembers a cache dir the worker has used.
func (m *Manager) TrackCacheDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackDirLocked(dir)
}

// TrackTaskRecord remembers a task record file the worker wrote for dir.
func (m *Manager) TrackTaskRecord(dir, record string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackDirLocked(dir)
	if m.records[dir] == nil {
		m.records[dir] = map[string]struct{}{}
	}
	m.records[dir][record] = struct{}{}
}

func (m *Manager) trackDirLocked(dir string) {
	if m.dirs == nil {
		m.dirs = map[string]struct{}{}
		m.records = map[string]map[string]struct{}{}
	}
	m.dirs[dir] = struct{}{}
}

// Tracked returns the tracked cache dirs, sorted.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.dirs)
}

// Maintain asks the worker, for every tracked cache dir, to mark the task
// records written there as used and then to clean entries outside the
// retention windows. Dirs that were maintained successfully stop being
// tracked.
func (m *Manager) Maintain(ctx context.Context, exec Executor) error {
	m.mu.Lock()
	dirs := sortedKeys(m.dirs)
	records := make(map[string][]string, len(dirs))
	for _, d := range dirs {
		records[d] = sortedKeys(m.records[d])
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, dir := range dirs {
		if err := m.maintainDir(ctx, exec, dir, records[dir]); err != nil {
			result = multierror.Append(result, fmt.Errorf("maintain %s: %w", dir, err))
			continue
		}
		m.mu.Lock()
		delete(m.dirs, dir)
		delete(m.records, dir)
		m.mu.Unlock()
	}
	return result.ErrorOrNil()
}

func (m *Manager) maintainDir(ctx context.Context, exec Executor, dir string, records []string) error {
	cacheFlag := "--cache-dir=" + dir
	if len(records) > 0 {
		args := append([]string{cacheFlag, "mark"}, records...)
		if _, err := exec.Execute(ctx, args); err != nil {
			return err
		}
	}
	args := []string{
		cacheFlag,
		"clean",
		"--asset-duration=" + strconv.Itoa(m.Retention.AssetsDays),
		"--output-duration=" + strconv.Itoa(m.Retention.OutputsDays),
		"--lock-duration=" + strconv.Itoa(m.Retention.LocksDays),
	}
	if _, err := exec.Execute(ctx, args); err != nil {
		return err
	}
	m.Logger.Debugw("cache maintained", "dir", dir, "records", len(records))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
