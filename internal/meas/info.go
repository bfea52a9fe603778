// Package meas holds the M/EEG measurement model: channel metadata, continuous
// recordings, events, epochs and evoked responses, and their file I/O.
package meas

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// ErrNoEEG is returned when an operation needs EEG channels and there are none.
var ErrNoEEG = errors.New("no EEG channels found")

// Channel describes one sensor.
type Channel struct {
	Name     string
	Kind     int32
	Unit     int32
	UnitMul  int32
	Cal      float64
	Range    float64
	CoilType int32
	Loc      [12]float64
	ScanNo   int
}

// IsData reports whether the channel carries brain signal (MEG, EEG, sEEG, ECoG).
func (c Channel) IsData() bool {
	switch c.Kind {
	case fiff.ChMEG, fiff.ChEEG, fiff.ChSEEG, fiff.ChECoG:
		return true
	}
	return false
}

// IsEEG reports whether the channel is an EEG electrode.
func (c Channel) IsEEG() bool { return c.Kind == fiff.ChEEG }

// scale converts stored values to physical units.
func (c Channel) scale() float64 {
	s := c.Cal * c.Range
	if s == 0 {
		return 1
	}
	return s
}

// Projector is a signal-space projection vector set defined over named channels.
type Projector struct {
	Kind    int32
	Desc    string
	Active  bool
	Names   []string
	Vectors *mat.Dense // nvec x len(Names)
}

// Info is the measurement metadata shared by every data representation.
type Info struct {
	SFreq       float64
	Channels    []Channel
	Bads        []string
	Projs       []Projector
	MeasDate    time.Time
	Description string
}

// NChan returns the number of channels.
func (i *Info) NChan() int { return len(i.Channels) }

// ChannelNames returns channel names in order.
func (i *Info) ChannelNames() []string {
	names := make([]string, len(i.Channels))
	for k, ch := range i.Channels {
		names[k] = ch.Name
	}
	return names
}

// Index returns the position of the named channel or -1.
func (i *Info) Index(name string) int {
	for k, ch := range i.Channels {
		if ch.Name == name {
			return k
		}
	}
	return -1
}

// IsBad reports whether the named channel is marked bad.
func (i *Info) IsBad(name string) bool { return slices.Contains(i.Bads, name) }

// DataPicks returns the indices of data channels.
func (i *Info) DataPicks() []int {
	var picks []int
	for k, ch := range i.Channels {
		if ch.IsData() {
			picks = append(picks, k)
		}
	}
	return picks
}

// Clone returns a deep copy.
func (i *Info) Clone() *Info {
	out := *i
	out.Channels = slices.Clone(i.Channels)
	out.Bads = slices.Clone(i.Bads)
	out.Projs = make([]Projector, len(i.Projs))
	for k, p := range i.Projs {
		out.Projs[k] = p
		out.Projs[k].Names = slices.Clone(p.Names)
		if p.Vectors != nil {
			out.Projs[k].Vectors = mat.DenseCopyOf(p.Vectors)
		}
	}
	return &out
}

// Pick returns a copy restricted to the channels at idx, in that order.
// Bad channel entries and projectors are kept as they are defined by name.
func (i *Info) Pick(idx []int) *Info {
	out := i.Clone()
	out.Channels = make([]Channel, len(idx))
	for k, j := range idx {
		out.Channels[k] = i.Channels[j]
	}
	var bads []string
	for _, b := range i.Bads {
		if out.Index(b) >= 0 {
			bads = append(bads, b)
		}
	}
	out.Bads = bads
	return out
}

// AddAverageReferenceProjector appends an average EEG reference projector over
// the good EEG channels. It does nothing if one is already present.
func (i *Info) AddAverageReferenceProjector() error {
	for _, p := range i.Projs {
		if p.Kind == fiff.ProjAverageEEGRef {
			return nil
		}
	}
	var names []string
	for _, ch := range i.Channels {
		if ch.IsEEG() && !i.IsBad(ch.Name) {
			names = append(names, ch.Name)
		}
	}
	if len(names) == 0 {
		return ErrNoEEG
	}
	v := make([]float64, len(names))
	for k := range v {
		v[k] = 1 / math.Sqrt(float64(len(names)))
	}
	i.Projs = append(i.Projs, Projector{
		Kind:    fiff.ProjAverageEEGRef,
		Desc:    "Average EEG reference",
		Names:   names,
		Vectors: mat.NewDense(1, len(names), v),
	})
	return nil
}

// ProjectionMatrix builds the operator I - U U^T over the named channels, where
// U is an orthonormal basis of all projector vectors restricted to those
// channels. It returns the operator and the number of projected dimensions.
func (i *Info) ProjectionMatrix(names []string) (*mat.Dense, int, error) {
	n := len(names)
	if n == 0 {
		return nil, 0, errors.New("projection over zero channels")
	}
	pos := make(map[string]int, n)
	for k, name := range names {
		pos[name] = k
	}

	var rows [][]float64
	for _, p := range i.Projs {
		if p.Vectors == nil {
			continue
		}
		nvec, ncols := p.Vectors.Dims()
		if ncols != len(p.Names) {
			return nil, 0, fmt.Errorf("projector %q has %d vector columns for %d channels", p.Desc, ncols, len(p.Names))
		}
		for r := 0; r < nvec; r++ {
			row := make([]float64, n)
			var hit bool
			for c, name := range p.Names {
				if k, ok := pos[name]; ok {
					row[k] = p.Vectors.At(r, c)
					hit = true
				}
			}
			if hit {
				rows = append(rows, row)
			}
		}
	}

	proj := identity(n)
	if len(rows) == 0 {
		return proj, 0, nil
	}

	vecs := mat.NewDense(n, len(rows), nil)
	for c, row := range rows {
		vecs.SetCol(c, row)
	}
	var svd mat.SVD
	if !svd.Factorize(vecs, mat.SVDThin) {
		return nil, 0, errors.New("projection vectors: SVD failed")
	}
	s := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)

	nproj := 0
	for _, v := range s {
		if v > s[0]*1e-2 {
			nproj++
		}
	}
	basis := u.Slice(0, n, 0, nproj)
	var uut mat.Dense
	uut.Mul(basis, basis.T())
	proj.Sub(proj, &uut)
	return proj, nproj, nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		m.Set(k, k, 1)
	}
	return m
}

// timeAsIndex converts times in seconds to sample indices relative to t0,
// truncating toward zero and clipping into [0, n].
func timeAsIndex(t0, sfreq float64, n int, times []float64) []int {
	out := make([]int, len(times))
	for k, t := range times {
		idx := int((t - t0) * sfreq)
		out[k] = max(0, min(idx, n))
	}
	return out
}

func timeAxis(t0, sfreq float64, n int) []float64 {
	out := make([]float64, n)
	for k := range out {
		out[k] = t0 + float64(k)/sfreq
	}
	return out
}
