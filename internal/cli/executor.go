package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"crochet/internal/artifact"
	"crochet/internal/cache"
	"crochet/internal/config"
	"crochet/internal/coordinator"
	"crochet/internal/daemon"
	"crochet/internal/logging"
)

// CLIResult is the outcome of one invocation. Run is set by the run command
// and Sweep by the sweep command.
type CLIResult struct {
	ExitCode int
	Run      *coordinator.Result
	Sweep    *cache.SweepReport
}

// Execute performs a parsed invocation.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	var (
		res CLIResult
		err error
	)
	switch inv.Command {
	case CommandRun:
		res, err = executeRun(ctx, inv, stdout, stderr)
	case CommandValidate:
		res, err = executeValidate(inv, stdout, stderr)
	case CommandIdentify:
		res, err = executeIdentify(inv, stdout, stderr)
	case CommandSweep:
		res, err = executeSweep(inv, stdout, stderr)
	case CommandMappings:
		res, err = executeMappings(inv, stdout)
	default:
		err = invalidInvocationf("unknown command %q", inv.Command)
	}
	res.ExitCode = ExitCode(err)
	return res, err
}

func loadConfig(inv Invocation) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if inv.ConfigPath == "" {
		cfg, err = config.Default(inv.WorkDir)
	} else {
		cfg, err = config.Load(inv.ConfigPath)
	}
	if err != nil {
		return nil, configErrorf("config: %v", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*zap.SugaredLogger, error) {
	level, format := "", ""
	if cfg != nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	logger, err := logging.New(level, format, stderr)
	if err != nil {
		return nil, configErrorf("logging: %v", err)
	}
	return logger, nil
}

func executeRun(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	cfg, err := loadConfig(inv)
	if err != nil {
		return CLIResult{}, err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return CLIResult{}, err
	}
	defer func() { _ = logger.Sync() }()

	req, err := LoadRequest(inv.RequestPath)
	if err != nil {
		return CLIResult{}, configErrorf("%v", err)
	}
	req.TaskRecord = req.TaskRecord || inv.TaskRecord

	mgr, err := cache.NewManager(cfg.CacheDir, cfg.Retention.Retention(), logger)
	if err != nil {
		return CLIResult{}, configErrorf("cache: %v", err)
	}
	coord := &coordinator.Coordinator{
		Session:  daemon.NewSession(logger),
		Launch:   cfg.LaunchSpec(),
		Cache:    mgr,
		CacheDir: cfg.CacheDir,
		WorkDir:  cfg.WorkDir,
		Logger:   logger,
	}

	result, runErr := coord.Run(ctx, req)
	if err := coord.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Warnw("shutdown", "error", err)
	}
	if runErr != nil {
		return CLIResult{}, runErr
	}

	logger.Infow("run finished", "up_to_date", result.UpToDate, "changed", result.Changed, "run_dir", result.RunDir)
	for _, out := range result.Outputs {
		fmt.Fprintln(stdout, out)
	}
	return CLIResult{Run: result}, nil
}

func executeValidate(inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	logger, err := newLogger(nil, stderr)
	if err != nil {
		return CLIResult{}, err
	}
	req, err := LoadRequest(inv.RequestPath)
	if err != nil {
		return CLIResult{}, configErrorf("%v", err)
	}
	doc, err := (&coordinator.Coordinator{Logger: logger}).Plan(req)
	if err != nil {
		return CLIResult{}, err
	}
	if inv.Print {
		if _, err := stdout.Write(doc); err != nil {
			return CLIResult{}, err
		}
	}
	return CLIResult{}, nil
}

func executeIdentify(inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	logger, err := newLogger(nil, stderr)
	if err != nil {
		return CLIResult{}, err
	}
	rs, err := LoadArtifacts(inv.ArtifactsPath)
	if err != nil {
		return CLIResult{}, configErrorf("%v", err)
	}
	manifest, err := artifact.Resolve(rs)
	if err != nil {
		return CLIResult{}, configErrorf("%v", err)
	}
	return CLIResult{}, manifest.Write(stdout, logger)
}

func executeSweep(inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	cfg, err := loadConfig(inv)
	if err != nil {
		return CLIResult{}, err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return CLIResult{}, err
	}
	defer func() { _ = logger.Sync() }()

	mgr, err := cache.NewManager(cfg.CacheDir, cfg.Retention.Retention(), logger)
	if err != nil {
		return CLIResult{}, configErrorf("cache: %v", err)
	}
	report, err := mgr.Sweep(time.Now())
	for _, p := range report.Removed {
		fmt.Fprintln(stdout, p)
	}
	return CLIResult{Sweep: &report}, err
}
