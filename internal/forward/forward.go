// Package forward holds precomputed forward models: the lead field mapping
// source currents to sensor signals together with the source spaces it was
// computed on.
package forward

import (
	"errors"
	"fmt"
	"slices"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// SourceSpace is a set of candidate source locations. Points and Normals
// cover every location; Vertno lists the ones in use, ascending.
type SourceSpace struct {
	Kind    int32 // fiff.SourceSpaceSurface or fiff.SourceSpaceVolume
	ID      int32 // fiff.HemiLeft, fiff.HemiRight or zero for volumes
	Points  *mat.Dense
	Normals *mat.Dense
	Vertno  []int
}

// NumUsed returns the number of sources in use.
func (s *SourceSpace) NumUsed() int { return len(s.Vertno) }

// Forward is a gain matrix with one row per channel and one column per source
// orientation.
type Forward struct {
	ChannelNames []string
	Gain         *mat.Dense
	SourceOri    int32 // fiff.SourceOriFixed or fiff.SourceOriFree
	CoordFrame   int32
	Src          []SourceSpace
	Subject      string
}

// NumSources returns the number of source locations across source spaces.
func (f *Forward) NumSources() int {
	n := 0
	for k := range f.Src {
		n += f.Src[k].NumUsed()
	}
	return n
}

// NumOrient returns the number of gain columns per source.
func (f *Forward) NumOrient() int {
	if f.SourceOri == fiff.SourceOriFree {
		return 3
	}
	return 1
}

// IsVolume reports whether the model is defined on a volume source space.
func (f *Forward) IsVolume() bool {
	return len(f.Src) > 0 && f.Src[0].Kind == fiff.SourceSpaceVolume
}

// Validate checks that the gain matrix agrees with the channels and sources.
func (f *Forward) Validate() error {
	if f.Gain == nil {
		return errors.New("forward: no gain matrix")
	}
	if f.SourceOri != fiff.SourceOriFixed && f.SourceOri != fiff.SourceOriFree {
		return fmt.Errorf("forward: unknown source orientation %d", f.SourceOri)
	}
	rows, cols := f.Gain.Dims()
	if rows != len(f.ChannelNames) {
		return fmt.Errorf("forward: gain has %d rows for %d channels", rows, len(f.ChannelNames))
	}
	if want := f.NumSources() * f.NumOrient(); cols != want {
		return fmt.Errorf("forward: gain has %d columns, want %d", cols, want)
	}
	return nil
}

// Pick returns a copy restricted to the named channels, in that order.
func (f *Forward) Pick(names []string) (*Forward, error) {
	_, cols := f.Gain.Dims()
	gain := mat.NewDense(len(names), cols, nil)
	for r, name := range names {
		k := slices.Index(f.ChannelNames, name)
		if k < 0 {
			return nil, fmt.Errorf("forward: channel %q not found", name)
		}
		gain.SetRow(r, mat.Row(nil, k, f.Gain))
	}
	out := *f
	out.ChannelNames = slices.Clone(names)
	out.Gain = gain
	return &out, nil
}

// Vertices returns the in-use vertex numbers of every source space.
func (f *Forward) Vertices() [][]int {
	out := make([][]int, len(f.Src))
	for k := range f.Src {
		out[k] = slices.Clone(f.Src[k].Vertno)
	}
	return out
}

// SourceNormals returns the unit normal of every source in use, one per row.
func (f *Forward) SourceNormals() *mat.Dense {
	out := mat.NewDense(max(1, f.NumSources()), 3, nil)
	r := 0
	for k := range f.Src {
		s := &f.Src[k]
		for _, v := range s.Vertno {
			if s.Normals != nil {
				out.SetRow(r, mat.Row(nil, v, s.Normals))
			}
			r++
		}
	}
	return out
}
