package cli

import (
	"context"
	"io"
)

// Run is the CLI entrypoint used by main and by black-box tests. args
// exclude argv[0]; command output goes to stdout and logs to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (CLIResult, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv, stdout, stderr)
}
