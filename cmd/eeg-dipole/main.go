// Command eeg-dipole estimates the cortical sources of an EEG recording from a
// forward model and writes the inverse operator and source time courses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/acpuchades/eegtools/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
