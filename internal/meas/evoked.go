package meas

import (
	"errors"
	"fmt"
	"math"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// Evoked is a trial-averaged response.
type Evoked struct {
	Info    *Info
	Data    *mat.Dense // channels x times
	TMin    float64
	NAve    int
	Comment string
}

// NTimes returns the number of samples.
func (e *Evoked) NTimes() int {
	_, n := e.Data.Dims()
	return n
}

// Times returns the time axis in seconds relative to the event.
func (e *Evoked) Times() []float64 { return timeAxis(e.TMin, e.Info.SFreq, e.NTimes()) }

// TimeAsIndex converts times in seconds to sample indices.
func (e *Evoked) TimeAsIndex(times ...float64) []int {
	return timeAsIndex(e.TMin, e.Info.SFreq, e.NTimes(), times)
}

// ReadEvokeds loads every evoked response stored in path, in file order.
func ReadEvokeds(path string) ([]*Evoked, error) {
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

	blocks := meas.Find(fiff.BlockEvoked)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%s: no evoked data", path)
	}
	out := make([]*Evoked, 0, len(blocks))
	for k, b := range blocks {
		evk, err := readEvoked(b, info)
		if err != nil {
			return nil, fmt.Errorf("%s: evoked #%d: %w", path, k, err)
		}
		out = append(out, evk)
	}
	return out, nil
}

func readEvoked(b *fiff.Block, info *Info) (*Evoked, error) {
	first, err := b.Int(fiff.KindFirstSample)
	if err != nil {
		return nil, err
	}
	last, err := b.Int(fiff.KindLastSample)
	if err != nil {
		return nil, err
	}
	ntimes := int(last-first) + 1
	if ntimes <= 0 {
		return nil, fmt.Errorf("invalid sample range [%d, %d]", first, last)
	}
	comment, err := b.TextOr(fiff.KindComment)
	if err != nil {
		return nil, err
	}
	aspect := b.Child(fiff.BlockAspect)
	if aspect == nil {
		return nil, errors.New("no aspect block")
	}
	nave, err := aspect.IntOr(fiff.KindNAve, 1)
	if err != nil {
		return nil, err
	}

	nchan := info.NChan()
	var data *mat.Dense
	epochTags := aspect.TagsOf(fiff.KindEpoch)
	switch {
	case len(epochTags) == 1 && epochTags[0].Type&fiff.TypeMatrix != 0:
		if data, err = epochTags[0].Matrix(); err != nil {
			return nil, err
		}
	case len(epochTags) == nchan:
		// one array per channel
		data = mat.NewDense(nchan, ntimes, nil)
		for c, t := range epochTags {
			row, err := t.Float64s()
			if err != nil {
				return nil, err
			}
			if len(row) != ntimes {
				return nil, fmt.Errorf("channel %d has %d samples, want %d", c, len(row), ntimes)
			}
			data.SetRow(c, row)
		}
	default:
		return nil, fmt.Errorf("found %d data tags for %d channels", len(epochTags), nchan)
	}
	if r, c := data.Dims(); r != nchan || c != ntimes {
		return nil, fmt.Errorf("data has shape %dx%d, want %dx%d", r, c, nchan, ntimes)
	}

	return &Evoked{
		Info:    info.Clone(),
		Data:    data,
		TMin:    float64(first) / info.SFreq,
		NAve:    int(nave),
		Comment: comment,
	}, nil
}

// SaveEvokeds writes one or more evoked responses sharing the first one's Info.
func SaveEvokeds(path string, evokeds ...*Evoked) error {
	if len(evokeds) == 0 {
		return errors.New("save evoked: nothing to write")
	}
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMeas)
	WriteInfo(w, evokeds[0].Info)
	w.StartBlock(fiff.BlockProcessedData)
	for _, e := range evokeds {
		first := int(math.Round(e.TMin * e.Info.SFreq))
		w.StartBlock(fiff.BlockEvoked)
		if e.Comment != "" {
			w.WriteString(fiff.KindComment, e.Comment)
		}
		w.WriteInt(fiff.KindFirstSample, int32(first))
		w.WriteInt(fiff.KindLastSample, int32(first+e.NTimes()-1))
		w.StartBlock(fiff.BlockAspect)
		w.WriteInt(fiff.KindAspectKind, fiff.AspectAverage)
		w.WriteInt(fiff.KindNAve, int32(e.NAve))
		w.WriteFloatMatrix(fiff.KindEpoch, e.Data)
		w.EndBlock(fiff.BlockAspect)
		w.EndBlock(fiff.BlockEvoked)
	}
	w.EndBlock(fiff.BlockProcessedData)
	w.EndBlock(fiff.BlockMeas)
	return w.Close()
}

// Save writes a single evoked response.
func (e *Evoked) Save(path string) error { return SaveEvokeds(path, e) }
