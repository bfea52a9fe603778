package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/acpuchades/eegtools/internal/covariance"
	"github.com/acpuchades/eegtools/internal/forward"
	"github.com/acpuchades/eegtools/internal/fsutil"
	"github.com/acpuchades/eegtools/internal/inverse"
	"github.com/acpuchades/eegtools/internal/meas"
	"github.com/acpuchades/eegtools/internal/monitoring"
	"github.com/acpuchades/eegtools/internal/plotting"
	"github.com/acpuchades/eegtools/internal/runlog"
	"github.com/acpuchades/eegtools/internal/stc"
	"github.com/acpuchades/eegtools/internal/version"
)

// Noise covariance sources, in priority order.
const (
	CovFromNoiseFile = "noise-file"
	CovFromRaw       = "raw"
	CovFromEpochs    = "epochs"
)

// Signal-to-noise ratios assumed for the regularization.
const (
	snrAveraged   = 3.0
	snrContinuous = 1.0
)

// baselineEnd is the upper bound of the pre-stimulus window used when the
// noise covariance comes from epochs.
const baselineEnd = -0.01

// ErrNoNoiseCovariance is returned when no input can provide a noise
// covariance.
var ErrNoNoiseCovariance = errors.New("no noise covariance: give a noise file, noise bounds or events to segment the recording")

// Pipeline runs eeg-dipole. The readers and writers are fields so tests can
// observe which loader runs.
type Pipeline struct {
	ReadRaw       func(path string) (*meas.Raw, error)
	ReadEpochs    func(path string) (*meas.Epochs, error)
	ReadEvokeds   func(path string) ([]*meas.Evoked, error)
	ReadForward   func(path string) (*forward.Forward, error)
	WriteOperator func(op *inverse.Operator, path string) error

	FS      fsutil.FileSystem
	Metrics *monitoring.Metrics
}

// NewPipeline returns a pipeline reading FIF files from disk.
func NewPipeline() *Pipeline {
	return &Pipeline{
		ReadRaw:       meas.ReadRaw,
		ReadEpochs:    meas.ReadEpochs,
		ReadEvokeds:   meas.ReadEvokeds,
		ReadForward:   forward.Read,
		WriteOperator: (*inverse.Operator).Save,
		FS:            fsutil.OSFileSystem{},
		Metrics:       monitoring.NewMetrics(),
	}
}

// Result describes a completed run.
type Result struct {
	RunID  uuid.UUID
	Raw    *meas.Raw
	Epochs *meas.Epochs
	Evoked *meas.Evoked

	CovarianceFrom string
	Lambda2        float64
	Start, Stop    int
	Operator       *inverse.Operator
	Estimates      []*stc.SourceEstimate
	Outputs        []string
}

// Run executes the pipeline described by opts.
func (p *Pipeline) Run(ctx context.Context, opts *Options) (res *Result, err error) {
	res = &Result{RunID: uuid.New()}
	log := monitoring.Log.With("run", res.RunID.String())

	if opts.MetricsFile != "" {
		defer func() {
			status := string(runlog.StatusOK)
			switch {
			case errors.Is(err, context.Canceled):
				status = string(runlog.StatusInterrupted)
			case err != nil:
				status = string(runlog.StatusFailed)
			}
			p.Metrics.Runs.WithLabelValues(status).Inc()
			if werr := p.Metrics.WriteTextfile(opts.MetricsFile); werr != nil {
				log.Warnw("could not write metrics", "path", opts.MetricsFile, "error", werr)
			}
		}()
	}

	if opts.History != "" {
		store, serr := runlog.Open(opts.History)
		if serr != nil {
			return nil, fmt.Errorf("history: %w", serr)
		}
		defer store.Close()
		run := &runlog.Run{
			ID:      res.RunID,
			Input:   opts.Input,
			Type:    opts.Type,
			Method:  string(opts.Method),
			Forward: opts.FwdFile,
			Version: version.Version,
		}
		if serr := store.Start(context.WithoutCancel(ctx), run); serr != nil {
			return nil, fmt.Errorf("history: %w", serr)
		}
		defer func() {
			r := runlog.Result{Outputs: res.Outputs, Err: err}
			if len(res.Estimates) > 0 {
				r.NSources = res.Estimates[0].NumSources()
				r.NTimes = res.Estimates[0].NTimes()
			}
			if ferr := store.Finish(context.WithoutCancel(ctx), run.ID, r); ferr != nil {
				log.Warnw("could not record run", "error", ferr)
			}
		}()
	}

	if err := opts.FreeSurfer.Resolve(p.FS); err != nil {
		return res, err
	}

	if err := p.load(opts, res); err != nil {
		return res, err
	}
	if err := p.segment(opts, res); err != nil {
		return res, err
	}
	if res.Epochs != nil && res.Evoked == nil {
		done := p.Metrics.Stage("average")
		res.Evoked, err = res.Epochs.Average()
		done()
		if err != nil {
			return res, err
		}
		log.Debugw("averaged epochs", "nave", res.Evoked.NAve, "comment", res.Evoked.Comment)
	}

	done := p.Metrics.Stage("forward")
	fwd, err := p.ReadForward(opts.FwdFile)
	done()
	if err != nil {
		return res, err
	}
	log.Infow("read forward solution", "path", opts.FwdFile,
		"sources", fwd.NumSources(), "channels", len(fwd.ChannelNames))

	cov, err := p.noiseCovariance(ctx, opts, res)
	if err != nil {
		return res, err
	}

	done = p.Metrics.Stage("operator")
	res.Operator, err = inverse.Make(primaryInfo(res), fwd, cov, inverse.DefaultOptions())
	done()
	if err != nil {
		return res, fmt.Errorf("inverse operator: %w", err)
	}
	log.Infow("assembled inverse operator", "channels", len(res.Operator.ChannelNames),
		"rank", res.Operator.Rank(), "sources", res.Operator.NumSources())

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := p.apply(opts, res); err != nil {
		return res, err
	}
	subject := opts.FreeSurfer.SubjectFor(fwd.Subject)
	for _, est := range res.Estimates {
		est.Subject = subject
	}
	p.Metrics.Sources.Set(float64(res.Operator.NumSources()))

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := p.save(opts, res); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if opts.Plot != "" {
		title := fmt.Sprintf("%s (%s)", fsutil.OutputStem(opts.Input), opts.Method)
		if err := plotting.Render(opts.Plot, res.Estimates[0], plotting.DefaultSeries, title, opts.PlotUnit); err != nil {
			return res, fmt.Errorf("plot: %w", err)
		}
		res.Outputs = append(res.Outputs, opts.Plot)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.Infow("done", "outputs", res.Outputs)
	return res, nil
}

// load reads the input with exactly the loader its type selects.
func (p *Pipeline) load(opts *Options, res *Result) error {
	defer p.Metrics.Stage("load")()
	log := monitoring.Log

	switch opts.Type {
	case TypeRaw:
		raw, err := p.ReadRaw(opts.Input)
		if err != nil {
			return err
		}
		if err := raw.SetAverageReference(true); errors.Is(err, meas.ErrNoEEG) {
			log.Infow("no EEG channels, skipping average reference", "path", opts.Input)
		} else if err != nil {
			return err
		}
		res.Raw = raw
		p.Metrics.Samples.WithLabelValues(TypeRaw).Add(float64(raw.NTimes()))
		log.Infow("read raw recording", "path", opts.Input,
			"channels", raw.Info.NChan(), "samples", raw.NTimes(), "sfreq", raw.Info.SFreq)

	case TypeEpochs:
		epochs, err := p.ReadEpochs(opts.Input)
		if err != nil {
			return err
		}
		res.Epochs = epochs
		p.Metrics.Samples.WithLabelValues(TypeEpochs).Add(float64(epochs.Len() * epochs.NTimes()))
		log.Infow("read epochs", "path", opts.Input, "epochs", epochs.Len(), "samples", epochs.NTimes())

	case TypeEvoked:
		evokeds, err := p.ReadEvokeds(opts.Input)
		if err != nil {
			return err
		}
		if len(evokeds) == 0 {
			return fmt.Errorf("%s: no evoked data", opts.Input)
		}
		if len(evokeds) > 1 {
			log.Infow("several conditions in file, using the first",
				"path", opts.Input, "conditions", len(evokeds), "comment", evokeds[0].Comment)
		}
		res.Evoked = evokeds[0]
		p.Metrics.Samples.WithLabelValues(TypeEvoked).Add(float64(res.Evoked.NTimes()))
		log.Infow("read evoked response", "path", opts.Input, "nave", res.Evoked.NAve, "samples", res.Evoked.NTimes())

	default:
		return fmt.Errorf("unknown input type %q", opts.Type)
	}
	return nil
}

// segment cuts epochs around the events of a raw recording. Without --stim or
// --annotated, or when no events are found, no epochs are made.
func (p *Pipeline) segment(opts *Options, res *Result) error {
	if res.Raw == nil || res.Epochs != nil {
		return nil
	}
	defer p.Metrics.Stage("segment")()

	var (
		events  []meas.Event
		eventID map[string]int
		err     error
	)
	switch {
	case opts.Stim != "":
		events, err = meas.FindEvents(res.Raw, opts.Stim)
	case opts.Annotated != "":
		events, eventID, err = meas.EventsFromAnnotations(res.Raw, opts.Annotated)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		monitoring.Log.Warnw("no events found, continuing without epochs")
		return nil
	}

	epochs, err := meas.NewEpochs(res.Raw, events, eventID, opts.EventBegin, opts.EventEnd)
	if err != nil {
		return err
	}
	res.Epochs = epochs
	monitoring.Log.Infow("segmented recording", "events", len(events), "epochs", epochs.Len(),
		"tmin", opts.EventBegin, "tmax", opts.EventEnd)
	return nil
}

// noiseCovariance picks the noise source: the noise file, then a copy of the
// primary recording when only noise bounds are given, then the pre-stimulus
// baseline of the epochs.
//
// The noise recording is cropped when a noise bound is set. Bounds with no
// recording to crop are an error.
func (p *Pipeline) noiseCovariance(ctx context.Context, opts *Options, res *Result) (*covariance.Covariance, error) {
	defer p.Metrics.Stage("covariance")()
	log := monitoring.Log
	bounded := opts.NoiseBegin != nil || opts.NoiseEnd != nil

	var noise *meas.Raw
	switch {
	case opts.NoiseFile != "":
		raw, err := p.ReadRaw(opts.NoiseFile)
		if err != nil {
			return nil, fmt.Errorf("noise file: %w", err)
		}
		noise = raw
		res.CovarianceFrom = CovFromNoiseFile
	case bounded && res.Raw != nil:
		noise = res.Raw.Copy()
		res.CovarianceFrom = CovFromRaw
	case bounded:
		return nil, fmt.Errorf("noise bounds need a noise file or a raw recording to crop")
	}

	if noise != nil {
		if bounded {
			tmin := 0.0
			if opts.NoiseBegin != nil {
				tmin = *opts.NoiseBegin
			}
			if err := noise.Crop(tmin, opts.NoiseEnd); err != nil {
				return nil, fmt.Errorf("noise recording: %w", err)
			}
		}
		cov, err := covariance.ComputeRaw(ctx, noise, covariance.Options{Jobs: opts.Jobs})
		if err != nil {
			return nil, fmt.Errorf("noise covariance: %w", err)
		}
		log.Infow("estimated noise covariance", "source", res.CovarianceFrom,
			"channels", len(cov.Names), "samples", noise.NTimes())
		return cov, nil
	}

	if res.Epochs != nil {
		tmax := baselineEnd
		cov, err := covariance.ComputeEpochs(ctx, res.Epochs, covariance.Options{TMax: &tmax, Jobs: opts.Jobs})
		if err != nil {
			return nil, fmt.Errorf("noise covariance: %w", err)
		}
		res.CovarianceFrom = CovFromEpochs
		log.Infow("estimated noise covariance", "source", CovFromEpochs,
			"channels", len(cov.Names), "epochs", res.Epochs.Len())
		return cov, nil
	}
	return nil, ErrNoNoiseCovariance
}

// primaryInfo returns the measurement info of the first representation
// present, in the order raw, epochs, evoked.
func primaryInfo(res *Result) *meas.Info {
	switch {
	case res.Raw != nil:
		return res.Raw.Info
	case res.Epochs != nil:
		return res.Epochs.Info
	default:
		return res.Evoked.Info
	}
}

// window converts the analysis bounds to samples of the representation.
func window(opts *Options, timeAsIndex func(...float64) []int) (int, int, error) {
	start, stop := 0, 0
	if opts.Begin != nil {
		start = timeAsIndex(*opts.Begin)[0]
	}
	if opts.End != nil {
		stop = timeAsIndex(*opts.End)[0]
		if stop <= start {
			return 0, 0, fmt.Errorf("analysis window [%g, %g] s selects no samples", ptrOr(opts.Begin, 0), *opts.End)
		}
	}
	return start, stop, nil
}

func ptrOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// apply dispatches to the evoked, epochs or raw inverse in that priority.
func (p *Pipeline) apply(opts *Options, res *Result) error {
	defer p.Metrics.Stage("apply")()
	params := inverse.Params{Method: opts.Method}
	var err error

	switch {
	case res.Evoked != nil:
		params.Lambda2 = inverse.Lambda2(snrAveraged)
		if params.Start, params.Stop, err = window(opts, res.Evoked.TimeAsIndex); err != nil {
			return err
		}
		est, err := inverse.Apply(res.Evoked, res.Operator, params)
		if err != nil {
			return err
		}
		res.Estimates = []*stc.SourceEstimate{est}

	case res.Epochs != nil:
		params.Lambda2 = inverse.Lambda2(snrAveraged)
		if params.Start, params.Stop, err = window(opts, res.Epochs.TimeAsIndex); err != nil {
			return err
		}
		if res.Estimates, err = inverse.ApplyEpochs(res.Epochs, res.Operator, params); err != nil {
			return err
		}

	default:
		params.Lambda2 = inverse.Lambda2(snrContinuous)
		if params.Start, params.Stop, err = window(opts, res.Raw.TimeAsIndex); err != nil {
			return err
		}
		est, err := inverse.ApplyRaw(res.Raw, res.Operator, params)
		if err != nil {
			return err
		}
		res.Estimates = []*stc.SourceEstimate{est}
	}

	res.Lambda2, res.Start, res.Stop = params.Lambda2, params.Start, params.Stop
	monitoring.Log.Infow("applied inverse", "method", opts.Method, "lambda2", params.Lambda2,
		"estimates", len(res.Estimates), "samples", res.Estimates[0].NTimes())
	return nil
}

// save writes the operator and the source estimates.
func (p *Pipeline) save(opts *Options, res *Result) error {
	defer p.Metrics.Stage("save")()
	stem := opts.Output
	if stem == "" {
		stem = fsutil.OutputStem(opts.Input)
	}
	if dir := filepath.Dir(stem); !fsutil.IsDir(p.FS, dir) {
		return fmt.Errorf("output directory %s does not exist", dir)
	}

	invPath := fsutil.OutputPath(stem, fsutil.KindInverse, opts.Gzip)
	if err := p.WriteOperator(res.Operator, invPath); err != nil {
		return err
	}
	res.Outputs = append(res.Outputs, invPath)

	kind := string(opts.Method)
	for i, est := range res.Estimates {
		estStem := stem + "." + kind
		if len(res.Estimates) > 1 {
			estStem = fsutil.EpochStem(stem, kind, i)
		}
		paths, err := est.Save(estStem)
		if err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, paths...)
	}
	return nil
}
