// Package coordinator turns a pipeline request into at most one worker
// invocation: it freezes and prunes the graph, resolves artifacts, skips the
// worker when the ledger says the destinations are current, and otherwise
// hands a pipeline document to the daemon.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"crochet/internal/artifact"
	"crochet/internal/cache"
	"crochet/internal/daemon"
	"crochet/internal/dag"
)

const (
	// RunsDir holds one directory per invocation under the work dir.
	RunsDir = "runs"

	DocumentFile   = "config.json"
	ManifestFile   = "artifact-manifest.properties"
	TaskRecordFile = "task-record.json"

	// RunMode is the worker command that executes a pipeline document.
	RunMode = "run"
)

var (
	// ErrInvalidRequest matches every error raised before anything is
	// submitted to the worker.
	ErrInvalidRequest = errors.New("invalid request")

	ErrNoTargets = errors.New("request has no targets")
)

// Request is one execution request from the host build.
type Request struct {
	// Config is the pipeline to execute. It is not modified.
	Config *dag.Builder
	// Parameters are set on top of the pipeline's own.
	Parameters map[string]dag.Value
	// Targets maps a target ("alias" or "task.slot") to its destination path.
	Targets   map[string]string
	Artifacts []artifact.Resolved
	// TaskRecord asks the worker to write a task record for cache marking.
	TaskRecord bool
}

type Result struct {
	// UpToDate is set when the worker was skipped.
	UpToDate bool
	// Changed is set when a destination differs from before the run.
	Changed bool
	// Outputs are the absolute destination paths in target order.
	Outputs []string
	// RunDir is the invocation directory; empty when UpToDate.
	RunDir string
}

// Coordinator runs requests on the caller goroutine.
type Coordinator struct {
	Session       *daemon.Session
	Launch        daemon.LaunchSpec
	Cache         *cache.Manager
	Ledger        *cache.Ledger
	Fingerprinter *cache.Fingerprinter
	CacheDir      string
	WorkDir       string
	Logger        *zap.SugaredLogger

	// Now defaults to time.Now.
	Now func() time.Time

	fpOnce sync.Once
	fp     *cache.Fingerprinter
	fpErr  error
}

type plan struct {
	work      dag.WorkItem
	config    *dag.Config
	document  []byte
	manifest  []byte
	artifacts []string
	key       string
	outputs   []string
}

// Run executes req. Graph and manifest errors are returned before anything
// is submitted; a worker failure is returned as the *daemon.WorkerFailedError
// the session produced.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	log := c.logger()
	if c.Cache != nil {
		if _, err := c.Cache.MaybeSweep(c.now()); err != nil {
			log.Warnw("cache sweep failed", "error", err)
		}
	}

	p, err := c.plan(req)
	if err != nil {
		return nil, invalidRequest(err)
	}

	fp, err := c.fingerprinter()
	if err != nil {
		return nil, err
	}
	fingerprint, err := fp.Fingerprint(p.document, p.manifest, c.dependencyFiles(p))
	if err != nil {
		return nil, err
	}
	ledger := c.ledger()
	if ledger != nil && ledger.IsUpToDate(p.key, fingerprint, p.outputs) {
		log.Infow("outputs up to date", "targets", len(p.work))
		return &Result{UpToDate: true, Outputs: p.outputs}, nil
	}

	if err := dag.ValidateDocument(p.document); err != nil {
		return nil, invalidRequest(fmt.Errorf("pipeline document: %w", err))
	}
	runDir := filepath.Join(c.WorkDir, RunsDir, ulid.Make().String())
	docPath := filepath.Join(runDir, DocumentFile)
	manifestPath := filepath.Join(runDir, ManifestFile)
	if err := cache.WriteFile(docPath, p.document); err != nil {
		return nil, fmt.Errorf("write pipeline document: %w", err)
	}
	if err := cache.WriteFile(manifestPath, p.manifest); err != nil {
		return nil, fmt.Errorf("write artifact manifest: %w", err)
	}

	args := []string{
		"--cache-dir=" + c.CacheDir,
		"--artifact-manifest=" + manifestPath,
		RunMode,
		docPath,
	}
	recordPath := filepath.Join(runDir, TaskRecordFile)
	if req.TaskRecord {
		args = append(args, "--task-record-json="+recordPath)
	}

	before := stampAll(p.outputs)
	worker, err := c.Session.Start(c.Launch)
	if err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	log.Infow("executing pipeline", "run_dir", runDir, "tasks", p.config.Len(), "targets", len(p.work))
	if _, err := worker.Execute(ctx, args); err != nil {
		return nil, err
	}

	if ledger != nil {
		if err := ledger.Record(p.key, fingerprint, p.outputs, c.now()); err != nil {
			log.Warnw("could not record outputs in ledger", "error", err)
		}
	}
	if c.Cache != nil {
		c.Cache.TrackCacheDir(c.CacheDir)
		if req.TaskRecord {
			c.Cache.TrackTaskRecord(c.CacheDir, recordPath)
		}
	}

	return &Result{
		Changed: !stampsEqual(before, stampAll(p.outputs)),
		Outputs: p.outputs,
		RunDir:  runDir,
	}, nil
}

// Plan returns the pipeline document req would submit, checked against the
// document schema. Nothing is written and no worker is started.
func (c *Coordinator) Plan(req Request) ([]byte, error) {
	p, err := c.plan(req)
	if err != nil {
		return nil, invalidRequest(err)
	}
	if err := dag.ValidateDocument(p.document); err != nil {
		return nil, invalidRequest(fmt.Errorf("pipeline document: %w", err))
	}
	return p.document, nil
}

func invalidRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}

// plan freezes, resolves and prunes everything a request needs and encodes
// the document and manifest the worker will read.
func (c *Coordinator) plan(req Request) (*plan, error) {
	if req.Config == nil {
		return nil, errors.New("request has no pipeline")
	}
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}

	b := req.Config.Clone()
	names := make([]string, 0, len(req.Parameters))
	for name := range req.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.SetParameter(name, req.Parameters[name])
	}
	frozen, err := b.Freeze()
	if err != nil {
		return nil, err
	}

	work := make(dag.WorkItem, len(req.Targets))
	for target, dest := range req.Targets {
		abs, err := filepath.Abs(dest)
		if err != nil {
			return nil, fmt.Errorf("destination for %s: %w", target, err)
		}
		work[dag.ParseTarget(target)] = abs
	}
	for _, t := range work.Targets() {
		if _, err := frozen.Resolve(t); err != nil {
			return nil, err
		}
	}
	pruned, err := frozen.Prune(work)
	if err != nil {
		return nil, err
	}

	manifest, err := artifact.Resolve(req.Artifacts)
	if err != nil {
		return nil, err
	}
	var mbuf bytes.Buffer
	if err := manifest.Write(&mbuf, c.logger()); err != nil {
		return nil, fmt.Errorf("encode artifact manifest: %w", err)
	}

	document, err := dag.EncodeDocument(pruned.Document(work))
	if err != nil {
		return nil, err
	}

	keyParts := make([]string, 0, 2*len(work))
	for _, t := range work.Targets() {
		keyParts = append(keyParts, t.String(), work[t])
	}
	return &plan{
		work:      work,
		config:    pruned,
		document:  document,
		manifest:  mbuf.Bytes(),
		artifacts: manifest.Files,
		key:       cache.Key(keyParts...),
		outputs:   work.Destinations(),
	}, nil
}

// dependencyFiles are the files whose content decides whether a previous run
// is still valid: direct file inputs of the pruned pipeline and every
// resolved artifact.
func (c *Coordinator) dependencyFiles(p *plan) []string {
	files := p.config.Files()
	return append(files, p.artifacts...)
}

// Shutdown asks a live worker to maintain the tracked cache dirs and then
// closes the session.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if c.Session == nil {
		return nil
	}
	if w := c.Session.Current(); w != nil && c.Cache != nil {
		if err := c.Cache.Maintain(ctx, w); err != nil {
			result = multierror.Append(result, fmt.Errorf("cache maintenance: %w", err))
		}
	} else if c.Cache != nil && len(c.Cache.Tracked()) > 0 {
		c.logger().Warnw("no live worker, skipping cache maintenance", "dirs", c.Cache.Tracked())
	}
	if err := c.Session.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close session: %w", err))
	}
	return result.ErrorOrNil()
}

func (c *Coordinator) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Coordinator) ledger() *cache.Ledger {
	if c.Ledger != nil {
		return c.Ledger
	}
	if c.Cache != nil {
		return c.Cache.Ledger()
	}
	return nil
}

// fingerprinter returns c.Fingerprinter, or one shared default created on
// first use.
func (c *Coordinator) fingerprinter() (*cache.Fingerprinter, error) {
	c.fpOnce.Do(func() {
		if c.Fingerprinter != nil {
			c.fp = c.Fingerprinter
			return
		}
		c.fp, c.fpErr = cache.NewFingerprinter(0)
	})
	return c.fp, c.fpErr
}

type stamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stampAll(paths []string) []stamp {
	out := make([]stamp, len(paths))
	for i, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			out[i] = stamp{exists: true, size: fi.Size(), modTime: fi.ModTime()}
		}
	}
	return out
}

func stampsEqual(a, b []stamp) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].exists != b[i].exists || a[i].size != b[i].size || !a[i].modTime.Equal(b[i].modTime) {
			return false
		}
	}
	return true
}
