package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"crochet/internal/coordinator"
	"crochet/internal/daemon"
)

const (
	ExitSuccess           = 0
	ExitWorkerFailure     = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

type Command string

const (
	CommandRun      Command = "run"
	CommandValidate Command = "validate"
	CommandIdentify Command = "identify"
	CommandSweep    Command = "sweep"
	CommandMappings Command = "mappings"
)

// Invocation is the canonical description of one CLI call.
//
// All paths are cleaned, and relative paths are resolved against WorkDir,
// which must be absolute.
type Invocation struct {
	Command       Command
	WorkDir       string
	ConfigPath    string
	RequestPath   string
	ArtifactsPath string
	SourcePath    string

	// OutputPath is where mappings writes its table; empty means stdout.
	OutputPath string

	// TaskRecord asks the worker for a task record on top of what the
	// request says.
	TaskRecord bool

	// Print writes the validated pipeline document to stdout.
	Print bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses "<command> [flags]" into an Invocation. It does not
// read environment variables or the process working directory.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("missing command (expected run|validate|identify|sweep|mappings)")
	}
	inv := Invocation{Command: Command(args[0])}

	fs := flag.NewFlagSet("crochet "+args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	var workDir, configPath, requestPath, artifactsPath, sourcePath, outputPath string
	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	switch inv.Command {
	case CommandRun:
		fs.StringVar(&configPath, "config", "", "Config file (optional).")
		fs.StringVar(&requestPath, "request", "", "Request file. Required.")
		fs.BoolVar(&inv.TaskRecord, "task-record", false, "Ask the worker to write a task record.")
	case CommandValidate:
		fs.StringVar(&requestPath, "request", "", "Request file. Required.")
		fs.BoolVar(&inv.Print, "print", false, "Print the pipeline document.")
	case CommandIdentify:
		fs.StringVar(&artifactsPath, "artifacts", "", "Resolved artifacts file. Required.")
	case CommandSweep:
		fs.StringVar(&configPath, "config", "", "Config file (optional).")
	case CommandMappings:
		fs.StringVar(&sourcePath, "source", "", "Mappings composition file. Required.")
		fs.StringVar(&outputPath, "output", "", "Output Tiny v2 file (default stdout).")
	default:
		return Invocation{}, invalidInvocationf("unknown command %q (expected run|validate|identify|sweep|mappings)", args[0])
	}

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if workDir == "" {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	workDir = filepath.Clean(workDir)
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}
	inv.WorkDir = workDir

	var err error
	switch inv.Command {
	case CommandRun, CommandValidate:
		if requestPath == "" {
			return Invocation{}, invalidInvocationf("--request is required")
		}
		if inv.RequestPath, err = resolveUnderWorkDir(workDir, requestPath); err != nil {
			return Invocation{}, err
		}
	case CommandIdentify:
		if artifactsPath == "" {
			return Invocation{}, invalidInvocationf("--artifacts is required")
		}
		if inv.ArtifactsPath, err = resolveUnderWorkDir(workDir, artifactsPath); err != nil {
			return Invocation{}, err
		}
	case CommandMappings:
		if sourcePath == "" {
			return Invocation{}, invalidInvocationf("--source is required")
		}
		if inv.SourcePath, err = resolveUnderWorkDir(workDir, sourcePath); err != nil {
			return Invocation{}, err
		}
		if outputPath != "" {
			if inv.OutputPath, err = resolveUnderWorkDir(workDir, outputPath); err != nil {
				return Invocation{}, err
			}
		}
	}
	if configPath != "" {
		if inv.ConfigPath, err = resolveUnderWorkDir(workDir, configPath); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}

// ExitCode maps an error to the process exit code: invocation errors carry
// their own, worker failures are 1, requests rejected before submission are
// 3 and anything else is internal.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, daemon.ErrWorkerFailed):
		return ExitWorkerFailure
	case errors.Is(err, coordinator.ErrInvalidRequest):
		return ExitConfigError
	}
	return ExitInternalError
}
