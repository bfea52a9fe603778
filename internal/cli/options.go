// Package cli implements the eeg-dipole command: argument parsing, the
// source-localization pipeline and the mapping of failures to exit codes.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/acpuchades/eegtools/internal/config"
	"github.com/acpuchades/eegtools/internal/freesurfer"
	"github.com/acpuchades/eegtools/internal/fsutil"
	"github.com/acpuchades/eegtools/internal/inverse"
	"github.com/acpuchades/eegtools/internal/units"
)

const (
	ExitSuccess = 0
	// ExitUsage matches the status argument parsers conventionally use for
	// a malformed command line.
	ExitUsage = 2
	// ExitFailure is -1 as seen by the shell.
	ExitFailure = 255
)

// Input types accepted by --type.
const (
	TypeRaw    = "raw"
	TypeEpochs = "epochs"
	TypeEvoked = "evoked"
)

// InputTypes lists the accepted --type values, default first.
var InputTypes = []string{TypeRaw, TypeEpochs, TypeEvoked}

// Default epoch window around each event, seconds.
const (
	DefaultEventBegin = -0.2
	DefaultEventEnd   = 0.5
)

// ErrHelp is returned by ParseOptions when -h or --help was given.
var ErrHelp = flag.ErrHelp

// Usage is the short synopsis printed on a missing or malformed command line.
const Usage = `usage: eeg-dipole [-h] [-t {raw,epochs,evoked}] -f FWD_FILE
                  [-m {dSPM,MNE,sLORETA,eLORETA}] [-t0 TIME] [-tN TIME]
                  [-s SUBJECT] [--subjects-dir DIR] [-o STEM] [-z]
                  [-v | -q] [--log-format {console,json}] [-j N]
                  [-n FIF_FILE] [-n0 TIME] [-nN TIME]
                  [--stim CHANNEL] [--annotated REGEXP] [-e0 TIME] [-eN TIME]
                  [--config PATH] [--history PATH] [--plot PATH]
                  [--plot-unit {Am,nAm,pAm,score}] [--metrics-file PATH]
                  [--version]
                  FIF_FILE
`

// Help is the full description printed for -h.
const Help = Usage + `
Dipole source localization tool for M/EEG recordings

positional arguments:
  FIF_FILE              input file with events to attempt to locate

options:
  -h, --help            show this help message and exit
  -t, --type {raw,epochs,evoked}
                        input file type (default: raw)
  -f, --fwd-file FWD_FILE
                        path to forward solution file
  -m, --method {dSPM,MNE,sLORETA,eLORETA}
                        method to compute inverse solution (default: dSPM)
  -t0, --begin TIME     start of recording frame to analyze
  -tN, --end TIME       end of recording frame to analyze
  --version             print the version and exit

freesurfer options:
  -s, --subject SUBJECT subject the source estimate belongs to
  --subjects-dir DIR    FreeSurfer subjects directory (default: $SUBJECTS_DIR)

output options:
  -o, --output STEM     output file stem (default: input path without extension)
  -z, --gzip            compress the inverse operator
  --plot PATH           plot the strongest source time courses (.html, .png, .svg, .pdf)
  --plot-unit {Am,nAm,pAm,score}
                        plot value unit (default: nAm for MNE and eLORETA, score otherwise)
  --history PATH        record the run in a sqlite history database
  --metrics-file PATH   write run metrics in Prometheus text format

logging options:
  -v, --verbose         log debug messages
  -q, --quiet           log warnings and errors only
  --log-format {console,json}
                        log encoding (default: console)
  --config PATH         JSON defaults file (default: $EEGTOOLS_CONFIG)

parallel options:
  -j, --jobs N          parallel workers; negative means one per CPU

noise options:
  -n, --noise-file FIF_FILE
                        file containing empty room measurements
  -n0, --noise-begin TIME
                        start of recording frame used to calculate noise covariance
  -nN, --noise-end TIME
                        end of recording frame used to calculate noise covariance

event options:
  --stim CHANNEL        use signals from trigger channel as events
  --annotated REGEXP    use annotations matching REGEXP to mark events
  -e0, --event-begin TIME
                        offset from event used as epoch start in seconds (usually negative)
  -eN, --event-end TIME
                        offset from event used as epoch end in seconds
`

// Options is the resolved command line of one run.
type Options struct {
	Input     string
	Type      string
	FwdFile   string
	Method    inverse.Method
	Begin     *float64
	End       *float64
	NoiseFile string
	// NoiseBegin and NoiseEnd are nil unless given; an explicit 0 counts.
	NoiseBegin *float64
	NoiseEnd   *float64
	Stim       string
	Annotated  string
	EventBegin float64
	EventEnd   float64

	FreeSurfer freesurfer.Options
	Output     string
	Gzip       bool
	LogLevel   string
	LogFormat  string
	Jobs       int

	ConfigPath  string
	History     string
	Plot        string
	PlotUnit    string
	MetricsFile string
	ShowVersion bool
}

// InvocationError is a malformed command line.
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
	return &InvocationError{ExitCode: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// optionalFloat records a float flag only when it is given.
type optionalFloat struct{ p **float64 }

func (o optionalFloat) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.FormatFloat(**o.p, 'g', -1, 64)
}

func (o optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float value %q", s)
	}
	*o.p = &v
	return nil
}

// flagValues holds raw flag values before config defaults are merged.
type flagValues struct {
	opts      Options
	method    string
	verbose   bool
	quiet     bool
	subject   string
	subjDir   string
	logFormat string
	plotUnit  string
}

func newFlagSet(v *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("eeg-dipole", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	o := &v.opts
	str := func(p *string, def string, names ...string) {
		for _, n := range names {
			fs.StringVar(p, n, def, "")
		}
	}
	boolean := func(p *bool, names ...string) {
		for _, n := range names {
			fs.BoolVar(p, n, false, "")
		}
	}
	optFloat := func(p **float64, names ...string) {
		for _, n := range names {
			fs.Var(optionalFloat{p}, n, "")
		}
	}
	float := func(p *float64, def float64, names ...string) {
		for _, n := range names {
			fs.Float64Var(p, n, def, "")
		}
	}

	str(&o.Type, TypeRaw, "t", "type")
	str(&o.FwdFile, "", "f", "fwd-file")
	str(&v.method, "", "m", "method")
	optFloat(&o.Begin, "t0", "begin")
	optFloat(&o.End, "tN", "end")

	str(&v.subject, "", "s", "subject")
	str(&v.subjDir, "", "subjects-dir")
	str(&o.Output, "", "o", "output")
	boolean(&o.Gzip, "z", "gzip")
	boolean(&v.verbose, "v", "verbose")
	boolean(&v.quiet, "q", "quiet")
	str(&v.logFormat, "", "log-format")
	for _, n := range []string{"j", "jobs"} {
		fs.IntVar(&o.Jobs, n, 0, "")
	}

	str(&o.NoiseFile, "", "n", "noise-file")
	optFloat(&o.NoiseBegin, "n0", "noise-begin")
	optFloat(&o.NoiseEnd, "nN", "noise-end")

	str(&o.Stim, "", "stim")
	str(&o.Annotated, "", "annotated")
	float(&o.EventBegin, DefaultEventBegin, "e0", "event-begin")
	float(&o.EventEnd, DefaultEventEnd, "eN", "event-end")

	str(&o.ConfigPath, "", "config")
	str(&o.History, "", "history")
	str(&o.Plot, "", "plot")
	str(&v.plotUnit, "", "plot-unit")
	str(&o.MetricsFile, "", "metrics-file")
	boolean(&o.ShowVersion, "version")
	return fs
}

// parseInterspersed parses args allowing positional arguments between flags.
// Everything after "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	rest := args
	for len(rest) > 0 {
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		left := fs.Args()
		if endsFlags(fs, rest[:len(rest)-len(left)]) {
			return append(positional, left...), nil
		}
		if len(left) == 0 {
			break
		}
		positional = append(positional, left[0])
		rest = left[1:]
	}
	return positional, nil
}

// endsFlags reports whether the parser stopped at a "--" terminator rather
// than at a positional argument. A "--" taken as a flag value does not count.
func endsFlags(fs *flag.FlagSet, consumed []string) bool {
	for i := 0; i < len(consumed); i++ {
		tok := consumed[i]
		if tok == "--" {
			return true
		}
		name := strings.TrimLeft(tok, "-")
		if strings.Contains(name, "=") {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
			continue
		}
		i++ // value
	}
	return false
}

// ParseOptions parses the command line and merges the defaults file named by
// --config or $EEGTOOLS_CONFIG. Flags given on the command line win over the
// file. Malformed command lines return an *InvocationError; -h returns ErrHelp.
func ParseOptions(args []string) (*Options, error) {
	return ParseOptionsFS(fsutil.OSFileSystem{}, args)
}

// ParseOptionsFS is ParseOptions with the defaults file read from fsys.
func ParseOptionsFS(fsys fsutil.FileSystem, args []string) (*Options, error) {
	var v flagValues
	fs := newFlagSet(&v)
	positional, err := parseInterspersed(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil, ErrHelp
	}
	if err != nil {
		return nil, invalidInvocationf("%v", err)
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	given := func(names ...string) bool {
		return slices.ContainsFunc(names, func(n string) bool { return set[n] })
	}

	opts := v.opts
	if opts.ShowVersion {
		return &opts, nil
	}

	switch {
	case len(positional) == 0:
		return nil, invalidInvocationf("the following arguments are required: FIF_FILE")
	case len(positional) > 1:
		return nil, invalidInvocationf("unrecognized arguments: %v", positional[1:])
	}
	opts.Input = positional[0]
	if opts.FwdFile == "" {
		return nil, invalidInvocationf("the following arguments are required: -f/--fwd-file")
	}
	if !slices.Contains(InputTypes, opts.Type) {
		return nil, invalidInvocationf("argument -t/--type: invalid choice: %q (choose from %v)", opts.Type, InputTypes)
	}
	if v.verbose && v.quiet {
		return nil, invalidInvocationf("argument -q/--quiet: not allowed with argument -v/--verbose")
	}
	if given("m", "method") {
		if _, err := inverse.ParseMethod(v.method); err != nil {
			return nil, invalidInvocationf("argument -m/--method: %v", err)
		}
	}
	if v.logFormat != "" && v.logFormat != "console" && v.logFormat != "json" {
		return nil, invalidInvocationf("argument --log-format: invalid choice: %q (choose from console, json)", v.logFormat)
	}
	if v.plotUnit != "" && !units.IsValid(v.plotUnit) {
		return nil, invalidInvocationf("argument --plot-unit: invalid choice: %q (choose from %s)", v.plotUnit, units.GetValidUnitsString())
	}

	defaults, err := config.Resolve(fsys, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	method := defaults.GetMethod()
	if given("m", "method") {
		method = v.method
	}
	if opts.Method, err = inverse.ParseMethod(method); err != nil {
		return nil, err
	}
	opts.PlotUnit = units.ForMethod(string(opts.Method))
	if v.plotUnit != "" {
		if units.IsMoment(v.plotUnit) != units.IsMoment(opts.PlotUnit) {
			return nil, invalidInvocationf("argument --plot-unit: %s estimates are shown in %s, not %s",
				opts.Method, opts.PlotUnit, v.plotUnit)
		}
		opts.PlotUnit = v.plotUnit
	}
	if !given("j", "jobs") {
		opts.Jobs = defaults.GetJobs()
	}
	if !given("z", "gzip") {
		opts.Gzip = defaults.GetGzip()
	}
	if !given("history") {
		opts.History = defaults.GetHistoryDB()
	}

	opts.FreeSurfer = freesurfer.Options{Subject: v.subject, SubjectsDir: v.subjDir}
	if !given("s", "subject") {
		opts.FreeSurfer.Subject = defaults.GetSubject()
	}
	if !given("subjects-dir") {
		opts.FreeSurfer.SubjectsDir = defaults.GetSubjectsDir()
	}

	switch {
	case v.verbose:
		opts.LogLevel = "debug"
	case v.quiet:
		opts.LogLevel = "warn"
	default:
		opts.LogLevel = defaults.GetLogLevel()
	}
	opts.LogFormat = v.logFormat
	if opts.LogFormat == "" {
		opts.LogFormat = defaults.GetLogFormat()
	}
	return &opts, nil
}
