package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stamp is the observed state of one destination file.
type Stamp struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Record is the ledger entry of one successful execution.
type Record struct {
	Key          string    `json:"key"`
	Fingerprint  string    `json:"fingerprint"`
	Destinations []Stamp   `json:"destinations"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func (r Record) Validate() error {
	var errs []error
	if err := validKey(r.Key); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.Fingerprint) == "" {
		errs = append(errs, errors.New("fingerprint is required"))
	}
	if r.Destinations == nil {
		errs = append(errs, errors.New("destinations must be an array (not null)"))
	}
	for i, d := range r.Destinations {
		if !filepath.IsAbs(d.Path) {
			errs = append(errs, fmt.Errorf("destinations[%d]: path %q is not absolute", i, d.Path))
		}
		if d.Size < 0 {
			errs = append(errs, fmt.Errorf("destinations[%d]: size must be >= 0", i))
		}
	}
	if r.RecordedAt.IsZero() {
		errs = append(errs, errors.New("recorded_at is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Ledger remembers, per work item key, the fingerprint of the last successful
// execution and the destinations it produced. Records live under
// <Dir>/<key>.json.
type Ledger struct {
	Dir string
}

func NewLedger(dir string) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("ledger dir is required")
	}
	return &Ledger{Dir: dir}, nil
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("key %q is not a valid file name", key)
	}
	return nil
}

func (l *Ledger) path(key string) string {
	return filepath.Join(l.Dir, key+".json")
}

// Load reads the record for key.
func (l *Ledger) Load(key string) (Record, error) {
	if err := validKey(key); err != nil {
		return Record{}, err
	}
	var rec Record
	if err := readJSONStrict(l.path(key), &rec); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid record on disk: %w", err)
	}
	if rec.Key != key {
		return Record{}, fmt.Errorf("invalid record on disk: key %q stored under %q", rec.Key, key)
	}
	return rec, nil
}

// IsUpToDate reports whether the last execution recorded for key had the
// same fingerprint and produced exactly destinations, each of which still
// has the recorded size and modification time. A missing or unreadable
// record is simply not up to date. A hit refreshes the record's mtime so the
// sweep keeps it.
func (l *Ledger) IsUpToDate(key, fingerprint string, destinations []string) bool {
	rec, err := l.Load(key)
	if err != nil {
		return false
	}
	if rec.Fingerprint != fingerprint {
		return false
	}
	want := normalizePaths(destinations)
	if len(want) != len(rec.Destinations) {
		return false
	}
	for i, d := range rec.Destinations {
		if d.Path != want[i] {
			return false
		}
		cur, err := stat(d.Path)
		if err != nil || cur.Size != d.Size || !cur.ModTime.Equal(d.ModTime) {
			return false
		}
	}
	now := time.Now()
	_ = os.Chtimes(l.path(key), now, now)
	return true
}

// Record stats every destination and stores the record for key.
func (l *Ledger) Record(key, fingerprint string, destinations []string, now time.Time) error {
	rec := Record{
		Key:          key,
		Fingerprint:  fingerprint,
		Destinations: []Stamp{},
		RecordedAt:   now.UTC(),
	}
	for _, p := range normalizePaths(destinations) {
		s, err := stat(p)
		if err != nil {
			return fmt.Errorf("stat destination: %w", err)
		}
		rec.Destinations = append(rec.Destinations, s)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if err := ensureDirDurable(l.Dir, 0o755); err != nil {
		return fmt.Errorf("ensure ledger dir: %w", err)
	}
	data, err := jsonMarshalStable(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := writeFileAtomicDurable(l.path(key), data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Forget removes the record for key, if any.
func (l *Ledger) Forget(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func stat(path string) (Stamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Stamp{}, err
	}
	if fi.IsDir() {
		return Stamp{}, fmt.Errorf("%s is a directory", path)
	}
	return Stamp{Path: path, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

// normalizePaths returns the sorted, deduplicated absolute forms of paths.
func normalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
