package meas

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// Epochs are equal-length, event-aligned segments sharing one Info.
type Epochs struct {
	Info     *Info
	Data     []*mat.Dense // one channels x times matrix per epoch
	TMin     float64
	Events   []Event
	EventID  map[string]int
	Baseline *[2]float64
}

// NewEpochs cuts [tmin, tmax] seconds around each event, keeping data channels
// only. Events whose window leaves the recording are dropped. With a nil
// eventID every event code is kept and mapped by its decimal string.
// Projectors in raw.Info are applied, then the mean of [tmin, 0] is removed
// from each channel when the window contains time zero.
func NewEpochs(raw *Raw, events []Event, eventID map[string]int, tmin, tmax float64) (*Epochs, error) {
	if tmax < tmin {
		return nil, fmt.Errorf("epochs: tmax (%g) must be >= tmin (%g)", tmax, tmin)
	}
	data, err := raw.PickData()
	if err != nil {
		return nil, fmt.Errorf("epochs: %w", err)
	}
	if err := data.ApplyProjection(); err != nil {
		return nil, fmt.Errorf("epochs: %w", err)
	}
	nchan := data.Info.NChan()

	if eventID == nil {
		eventID = map[string]int{}
		for _, e := range events {
			eventID[strconv.Itoa(e.Code)] = e.Code
		}
	}
	wanted := map[int]bool{}
	for _, code := range eventID {
		wanted[code] = true
	}

	sfreq := raw.Info.SFreq
	startOff := int(math.Round(tmin * sfreq))
	stopOff := int(math.Round(tmax * sfreq))
	ntimes := stopOff - startOff + 1

	ep := &Epochs{
		Info:    data.Info,
		TMin:    float64(startOff) / sfreq,
		EventID: eventID,
	}
	for _, e := range events {
		if !wanted[e.Code] {
			continue
		}
		s := e.Sample - raw.FirstSample + startOff
		if s < 0 || s+ntimes > raw.NTimes() {
			continue
		}
		seg := mat.DenseCopyOf(data.Data.Slice(0, nchan, s, s+ntimes))
		ep.Data = append(ep.Data, seg)
		ep.Events = append(ep.Events, e)
	}
	if len(ep.Data) == 0 {
		return nil, errors.New("epochs: no event windows fall inside the recording")
	}

	if ep.TMin <= 0 && float64(stopOff)/sfreq >= 0 {
		ep.Baseline = &[2]float64{ep.TMin, 0}
		ep.applyBaseline()
	}
	return ep, nil
}

func (e *Epochs) applyBaseline() {
	idx := e.TimeAsIndex(e.Baseline[0], e.Baseline[1])
	lo, hi := idx[0], min(idx[1]+1, e.NTimes())
	if hi <= lo {
		return
	}
	for _, seg := range e.Data {
		rows, _ := seg.Dims()
		for r := 0; r < rows; r++ {
			var mean float64
			for t := lo; t < hi; t++ {
				mean += seg.At(r, t)
			}
			mean /= float64(hi - lo)
			for t := 0; t < e.NTimes(); t++ {
				seg.Set(r, t, seg.At(r, t)-mean)
			}
		}
	}
}

// Len returns the number of epochs.
func (e *Epochs) Len() int { return len(e.Data) }

// NTimes returns the number of samples per epoch.
func (e *Epochs) NTimes() int {
	if len(e.Data) == 0 {
		return 0
	}
	_, n := e.Data[0].Dims()
	return n
}

// Times returns the epoch time axis in seconds relative to the event.
func (e *Epochs) Times() []float64 { return timeAxis(e.TMin, e.Info.SFreq, e.NTimes()) }

// TimeAsIndex converts times in seconds to sample indices within an epoch.
func (e *Epochs) TimeAsIndex(times ...float64) []int {
	return timeAsIndex(e.TMin, e.Info.SFreq, e.NTimes(), times)
}

// Average collapses the epochs into their arithmetic mean.
func (e *Epochs) Average() (*Evoked, error) {
	if e.Len() == 0 {
		return nil, errors.New("average: no epochs")
	}
	rows, cols := e.Data[0].Dims()
	sum := mat.NewDense(rows, cols, nil)
	for _, seg := range e.Data {
		sum.Add(sum, seg)
	}
	sum.Scale(1/float64(e.Len()), sum)

	names := make([]string, 0, len(e.EventID))
	for name := range e.EventID {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Evoked{
		Info:    e.Info.Clone(),
		Data:    sum,
		TMin:    e.TMin,
		NAve:    e.Len(),
		Comment: strings.Join(names, " + "),
	}, nil
}

// ReadEpochs loads epochs saved by Save.
func ReadEpochs(path string) (*Epochs, error) {
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
	b := meas.FindFirst(fiff.BlockMNEEpochs)
	if b == nil {
		return nil, fmt.Errorf("%s: no epochs block", path)
	}

	first, err := b.Int(fiff.KindFirstSample)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tag := b.Tag(fiff.KindEpoch)
	if tag == nil {
		return nil, fmt.Errorf("%s: epochs block has no data", path)
	}
	dims, vals, err := tag.MatrixValues()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(dims) != 3 || dims[1] != info.NChan() {
		return nil, fmt.Errorf("%s: epoch data has shape %v for %d channels", path, dims, info.NChan())
	}
	if dims[0] == 0 || dims[2] == 0 {
		return nil, fmt.Errorf("%s: epoch data has empty shape %v", path, dims)
	}

	ep := &Epochs{Info: info, TMin: float64(first) / info.SFreq}
	stride := dims[1] * dims[2]
	for k := 0; k < dims[0]; k++ {
		seg := mat.NewDense(dims[1], dims[2], append([]float64(nil), vals[k*stride:(k+1)*stride]...))
		ep.Data = append(ep.Data, seg)
	}

	if el, err := b.Matrix(fiff.KindMNEEventList); err == nil {
		rows, cols := el.Dims()
		if rows != ep.Len() || cols != 3 {
			return nil, fmt.Errorf("%s: event list has shape %dx%d for %d epochs", path, rows, cols, ep.Len())
		}
		for r := 0; r < rows; r++ {
			ep.Events = append(ep.Events, Event{Sample: int(el.At(r, 0)), Previous: int(el.At(r, 1)), Code: int(el.At(r, 2))})
		}
	}
	mapping, err := b.TextOr(fiff.KindMNEEventMapping)
	if err != nil {
		return nil, err
	}
	if ep.EventID, err = parseEventMapping(mapping); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if b.Has(fiff.KindMNEBaselineMin) && b.Has(fiff.KindMNEBaselineMax) {
		lo, _ := b.Float64(fiff.KindMNEBaselineMin)
		hi, _ := b.Float64(fiff.KindMNEBaselineMax)
		ep.Baseline = &[2]float64{lo, hi}
	}
	return ep, nil
}

// Save writes the epochs.
func (e *Epochs) Save(path string) error {
	if e.Len() == 0 {
		return errors.New("save epochs: no epochs")
	}
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMeas)
	WriteInfo(w, e.Info)
	w.StartBlock(fiff.BlockProcessedData)
	w.StartBlock(fiff.BlockMNEEpochs)

	first := int(math.Round(e.TMin * e.Info.SFreq))
	w.WriteInt(fiff.KindFirstSample, int32(first))
	w.WriteInt(fiff.KindLastSample, int32(first+e.NTimes()-1))
	if len(e.Events) == e.Len() {
		ev := make([]int32, 0, 3*len(e.Events))
		for _, x := range e.Events {
			ev = append(ev, int32(x.Sample), int32(x.Previous), int32(x.Code))
		}
		w.WriteIntMatrix(fiff.KindMNEEventList, len(e.Events), 3, ev)
	}
	if len(e.EventID) > 0 {
		w.WriteString(fiff.KindMNEEventMapping, formatEventMapping(e.EventID))
	}
	if e.Baseline != nil {
		w.WriteFloat(fiff.KindMNEBaselineMin, e.Baseline[0])
		w.WriteFloat(fiff.KindMNEBaselineMax, e.Baseline[1])
	}

	rows, cols := e.Data[0].Dims()
	vals := make([]float64, 0, e.Len()*rows*cols)
	for _, seg := range e.Data {
		for r := 0; r < rows; r++ {
			vals = append(vals, mat.Row(nil, r, seg)...)
		}
	}
	w.WriteFloatArray(fiff.KindEpoch, []int{e.Len(), rows, cols}, vals)

	w.EndBlock(fiff.BlockMNEEpochs)
	w.EndBlock(fiff.BlockProcessedData)
	w.EndBlock(fiff.BlockMeas)
	return w.Close()
}

func formatEventMapping(id map[string]int) string {
	names := make([]string, 0, len(id))
	for name := range id {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return id[names[i]] < id[names[j]] })
	parts := make([]string, len(names))
	for k, name := range names {
		parts[k] = name + ":" + strconv.Itoa(id[name])
	}
	return strings.Join(parts, ";")
}

func parseEventMapping(s string) (map[string]int, error) {
	if s == "" {
		return nil, nil
	}
	out := map[string]int{}
	for _, part := range strings.Split(s, ";") {
		i := strings.LastIndex(part, ":")
		if i < 0 {
			return nil, fmt.Errorf("malformed event mapping entry %q", part)
		}
		code, err := strconv.Atoi(part[i+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed event mapping entry %q: %w", part, err)
		}
		out[part[:i]] = code
	}
	return out, nil
}
