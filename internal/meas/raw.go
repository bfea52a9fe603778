package meas

import (
	"errors"
	"fmt"
	"math"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// Annotation marks a labelled time span, onset in seconds from the first sample.
type Annotation struct {
	Onset       float64
	Duration    float64
	Description string
}

// Raw is a continuous recording held in memory in physical units.
type Raw struct {
	Info        *Info
	Data        *mat.Dense // channels x samples
	FirstSample int
	Annotations []Annotation
	Filename    string
}

// NTimes returns the number of samples.
func (r *Raw) NTimes() int {
	_, n := r.Data.Dims()
	return n
}

// Times returns the sample times in seconds relative to the first sample.
func (r *Raw) Times() []float64 { return timeAxis(0, r.Info.SFreq, r.NTimes()) }

// TimeAsIndex converts times in seconds to sample indices.
func (r *Raw) TimeAsIndex(times ...float64) []int {
	return timeAsIndex(0, r.Info.SFreq, r.NTimes(), times)
}

// Copy returns a deep copy.
func (r *Raw) Copy() *Raw {
	out := *r
	out.Info = r.Info.Clone()
	out.Data = mat.DenseCopyOf(r.Data)
	out.Annotations = append([]Annotation(nil), r.Annotations...)
	return &out
}

// PickData returns a copy holding only the data channels, in their order.
func (r *Raw) PickData() (*Raw, error) {
	picks := r.Info.DataPicks()
	if len(picks) == 0 {
		return nil, errors.New("no data channels")
	}
	out := &Raw{
		Info:        r.Info.Pick(picks),
		Data:        mat.NewDense(len(picks), r.NTimes(), nil),
		FirstSample: r.FirstSample,
		Annotations: append([]Annotation(nil), r.Annotations...),
		Filename:    r.Filename,
	}
	for k, c := range picks {
		out.Data.SetRow(k, mat.Row(nil, c, r.Data))
	}
	return out, nil
}

// ApplyProjection applies the projectors in Info to the data in place and
// marks them active. Applying an active projector again leaves the data as is.
func (r *Raw) ApplyProjection() error {
	proj, nproj, err := r.Info.ProjectionMatrix(r.Info.ChannelNames())
	if err != nil {
		return err
	}
	if nproj == 0 {
		return nil
	}
	var out mat.Dense
	out.Mul(proj, r.Data)
	r.Data = &out
	for k := range r.Info.Projs {
		r.Info.Projs[k].Active = true
	}
	return nil
}

// Crop keeps samples from tmin to tmax inclusive (seconds relative to the first
// sample). A nil tmax keeps everything up to the last sample. Annotations are
// shifted and those falling outside the kept span are dropped.
func (r *Raw) Crop(tmin float64, tmax *float64) error {
	n := r.NTimes()
	end := float64(n-1) / r.Info.SFreq
	if tmax != nil {
		end = *tmax
	}
	if tmin < 0 {
		return fmt.Errorf("crop: tmin (%g) must be >= 0", tmin)
	}
	if end < tmin {
		return fmt.Errorf("crop: tmax (%g) must be >= tmin (%g)", end, tmin)
	}
	smin := int(math.Round(tmin * r.Info.SFreq))
	smax := min(int(math.Round(end*r.Info.SFreq)), n-1)
	if smin >= n {
		return fmt.Errorf("crop: tmin (%g) exceeds the recording length (%g s)", tmin, float64(n)/r.Info.SFreq)
	}

	rows, _ := r.Data.Dims()
	r.Data = mat.DenseCopyOf(r.Data.Slice(0, rows, smin, smax+1))
	r.FirstSample += smin

	shift := float64(smin) / r.Info.SFreq
	span := float64(smax-smin+1) / r.Info.SFreq
	kept := r.Annotations[:0]
	for _, a := range r.Annotations {
		a.Onset -= shift
		if a.Onset+a.Duration < 0 || a.Onset >= span {
			continue
		}
		kept = append(kept, a)
	}
	r.Annotations = kept
	return nil
}

// SetAverageReference references EEG channels to their average. With
// projection the reference is added as a projector and applied lazily by
// downstream steps; without it the data are re-referenced in place.
func (r *Raw) SetAverageReference(projection bool) error {
	if projection {
		return r.Info.AddAverageReferenceProjector()
	}
	var eeg []int
	for k, ch := range r.Info.Channels {
		if ch.IsEEG() && !r.Info.IsBad(ch.Name) {
			eeg = append(eeg, k)
		}
	}
	if len(eeg) == 0 {
		return ErrNoEEG
	}
	for s := 0; s < r.NTimes(); s++ {
		var mean float64
		for _, k := range eeg {
			mean += r.Data.At(k, s)
		}
		mean /= float64(len(eeg))
		for _, k := range eeg {
			r.Data.Set(k, s, r.Data.At(k, s)-mean)
		}
	}
	return nil
}

// ChannelData returns the samples of the named channel.
func (r *Raw) ChannelData(name string) ([]float64, error) {
	k := r.Info.Index(name)
	if k < 0 {
		return nil, fmt.Errorf("channel %q not found", name)
	}
	return mat.Row(nil, k, r.Data), nil
}

// ReadRaw loads a continuous recording.
func ReadRaw(path string) (*Raw, error) {
	f, err := fiff.Open(path)
	if err != nil {
		return nil, err
	}
	meas := f.Root.FindFirst(fiff.BlockMeas)
	if meas == nil {
		return nil, fmt.Errorf("%s: no measurement block", path)
	}
	info, err := ReadInfo(meas.FindFirst(fiff.BlockMeasInfo))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	data := meas.FindFirst(fiff.BlockRawData)
	if data == nil {
		data = meas.FindFirst(fiff.BlockContinuousData)
	}
	if data == nil {
		return nil, fmt.Errorf("%s: no raw data block", path)
	}
	first, err := data.IntOr(fiff.KindFirstSample, 0)
	if err != nil {
		return nil, err
	}

	nchan := info.NChan()
	var samples []float64
	for _, t := range data.Tags {
		switch t.Kind {
		case fiff.KindDataSkip:
			return nil, fmt.Errorf("%s: data skips are not supported", path)
		case fiff.KindDataBuffer:
			vals, err := t.Float64s()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if len(vals)%nchan != 0 {
				return nil, fmt.Errorf("%s: buffer of %d values does not divide into %d channels", path, len(vals), nchan)
			}
			samples = append(samples, vals...)
		}
	}
	ntimes := len(samples) / nchan
	if ntimes == 0 {
		return nil, fmt.Errorf("%s: recording has no samples", path)
	}

	m := mat.NewDense(nchan, ntimes, nil)
	for s := 0; s < ntimes; s++ {
		for c := 0; c < nchan; c++ {
			m.Set(c, s, samples[s*nchan+c]*info.Channels[c].scale())
		}
	}

	raw := &Raw{Info: info, Data: m, FirstSample: int(first), Filename: path}
	if ab := meas.FindFirst(fiff.BlockMNEAnnotations); ab != nil {
		if raw.Annotations, err = readAnnotations(ab); err != nil {
			return nil, fmt.Errorf("%s: annotations: %w", path, err)
		}
	}
	return raw, nil
}

func readAnnotations(b *fiff.Block) ([]Annotation, error) {
	onsets, err := floatsOf(b, fiff.KindMNEBaselineMin)
	if err != nil {
		return nil, err
	}
	ends, err := floatsOf(b, fiff.KindMNEBaselineMax)
	if err != nil {
		return nil, err
	}
	desc, err := b.NameList(fiff.KindComment)
	if err != nil {
		return nil, err
	}
	if len(onsets) != len(ends) || len(onsets) != len(desc) {
		return nil, errors.New("onset, offset and description counts differ")
	}
	out := make([]Annotation, len(onsets))
	for k := range onsets {
		out[k] = Annotation{Onset: onsets[k], Duration: ends[k] - onsets[k], Description: desc[k]}
	}
	return out, nil
}

func floatsOf(b *fiff.Block, kind int32) ([]float64, error) {
	t := b.Tag(kind)
	if t == nil {
		return nil, fmt.Errorf("tag %d: %w", kind, fiff.ErrTagNotFound)
	}
	return t.Float64s()
}

// Save writes the recording in one-second data buffers.
func (r *Raw) Save(path string) error {
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMeas)
	WriteInfo(w, r.Info)

	w.StartBlock(fiff.BlockRawData)
	w.WriteInt(fiff.KindFirstSample, int32(r.FirstSample))
	nchan := r.Info.NChan()
	n := r.NTimes()
	bufSize := max(1, int(r.Info.SFreq))
	for start := 0; start < n; start += bufSize {
		stop := min(start+bufSize, n)
		buf := make([]float64, 0, (stop-start)*nchan)
		for s := start; s < stop; s++ {
			for c := 0; c < nchan; c++ {
				buf = append(buf, r.Data.At(c, s)/r.Info.Channels[c].scale())
			}
		}
		w.WriteFloats(fiff.KindDataBuffer, buf)
	}
	w.EndBlock(fiff.BlockRawData)

	if len(r.Annotations) > 0 {
		onsets := make([]float64, len(r.Annotations))
		ends := make([]float64, len(r.Annotations))
		desc := make([]string, len(r.Annotations))
		for k, a := range r.Annotations {
			onsets[k] = a.Onset
			ends[k] = a.Onset + a.Duration
			desc[k] = a.Description
		}
		w.StartBlock(fiff.BlockMNEAnnotations)
		w.WriteFloats(fiff.KindMNEBaselineMin, onsets)
		w.WriteFloats(fiff.KindMNEBaselineMax, ends)
		w.WriteNameList(fiff.KindComment, desc)
		w.EndBlock(fiff.BlockMNEAnnotations)
	}

	w.EndBlock(fiff.BlockMeas)
	return w.Close()
}
