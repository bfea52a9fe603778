package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/acpuchades/eegtools/internal/monitoring"
	"github.com/acpuchades/eegtools/internal/version"
)

// Main runs eeg-dipole with args (without the program name) and returns the
// process exit status. With no arguments it prints the usage to stderr and
// touches no files.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, Usage)
		return ExitFailure
	}

	opts, err := ParseOptions(args)
	if errors.Is(err, ErrHelp) {
		fmt.Fprint(stdout, Help)
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		fmt.Fprint(stderr, Usage)
		fmt.Fprintf(stderr, "eeg-dipole: error: %s\n", invErr.Message)
		return invErr.ExitCode
	}
	if err != nil {
		return report(stderr, err)
	}
	if opts.ShowVersion {
		fmt.Fprintln(stdout, "eeg-dipole", version.String())
		return ExitSuccess
	}

	sync, err := monitoring.Configure(monitoring.LogConfig{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
		Output: stderr,
	})
	if err != nil {
		return report(stderr, err)
	}
	defer sync()

	_, err = NewPipeline().Run(ctx, opts)
	if err == nil {
		// an interrupt that lands after the last stage still counts
		err = ctx.Err()
	}
	return report(stderr, err)
}

// report prints the outcome of a run and returns its exit status.
func report(w io.Writer, err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "Interrupted.")
	default:
		fmt.Fprintf(w, "Error: %v.\n", err)
	}
	return ExitFailure
}
