package forward

import (
	"path/filepath"
	"testing"

	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newSourceSpace(id int32, npts int, used []int) SourceSpace {
	pts := mat.NewDense(npts, 3, nil)
	nrm := mat.NewDense(npts, 3, nil)
	for k := 0; k < npts; k++ {
		pts.SetRow(k, []float64{float64(k) * 0.01, float64(id-100) * 0.02, 0.05})
		nrm.SetRow(k, []float64{0, 0, 1})
	}
	return SourceSpace{Kind: fiff.SourceSpaceSurface, ID: id, Points: pts, Normals: nrm, Vertno: used}
}

func newTestForward(ori int32) *Forward {
	f := &Forward{
		ChannelNames: []string{"EEG 001", "EEG 002", "EEG 003", "EEG 004"},
		SourceOri:    ori,
		CoordFrame:   fiff.CoordHead,
		Subject:      "sample",
		Src: []SourceSpace{
			newSourceSpace(fiff.HemiLeft, 5, []int{0, 2, 4}),
			newSourceSpace(fiff.HemiRight, 4, []int{1, 3}),
		},
	}
	cols := f.NumSources() * f.NumOrient()
	gain := mat.NewDense(4, cols, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < cols; c++ {
			gain.Set(r, c, float64(r*cols+c)*1e-9)
		}
	}
	f.Gain = gain
	return f
}

func TestForwardShape(t *testing.T) {
	fixed := newTestForward(fiff.SourceOriFixed)
	assert.Equal(t, 5, fixed.NumSources())
	assert.Equal(t, 1, fixed.NumOrient())
	assert.False(t, fixed.IsVolume())
	require.NoError(t, fixed.Validate())
	assert.Equal(t, [][]int{{0, 2, 4}, {1, 3}}, fixed.Vertices())

	free := newTestForward(fiff.SourceOriFree)
	assert.Equal(t, 3, free.NumOrient())
	require.NoError(t, free.Validate())

	nrm := fixed.SourceNormals()
	r, c := nrm.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 1.0, nrm.At(4, 2))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Forward)
	}{
		{"missing gain", func(f *Forward) { f.Gain = nil }},
		{"row mismatch", func(f *Forward) { f.ChannelNames = f.ChannelNames[:2] }},
		{"column mismatch", func(f *Forward) { f.SourceOri = fiff.SourceOriFree }},
		{"unknown orientation", func(f *Forward) { f.SourceOri = 7 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestForward(fiff.SourceOriFixed)
			tc.mutate(f)
			assert.Error(t, f.Validate())
		})
	}
}

func TestPick(t *testing.T) {
	f := newTestForward(fiff.SourceOriFixed)
	sub, err := f.Pick([]string{"EEG 003", "EEG 001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"EEG 003", "EEG 001"}, sub.ChannelNames)
	assert.Equal(t, mat.Row(nil, 2, f.Gain), mat.Row(nil, 0, sub.Gain))
	assert.Equal(t, mat.Row(nil, 0, f.Gain), mat.Row(nil, 1, sub.Gain))
	assert.Len(t, f.ChannelNames, 4, "source model is untouched")

	_, err = f.Pick([]string{"MEG 0111"})
	assert.Error(t, err)
}

func TestSaveRead(t *testing.T) {
	for _, ori := range []int32{fiff.SourceOriFixed, fiff.SourceOriFree} {
		f := newTestForward(ori)
		path := filepath.Join(t.TempDir(), "sample-fwd.fif.gz")
		require.NoError(t, f.Save(path))

		got, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, f.ChannelNames, got.ChannelNames)
		assert.Equal(t, f.SourceOri, got.SourceOri)
		assert.Equal(t, f.Subject, got.Subject)
		if diff := cmp.Diff(f.Vertices(), got.Vertices()); diff != "" {
			t.Errorf("vertices mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, fiff.HemiRight, got.Src[1].ID)

		r, c := f.Gain.Dims()
		gr, gc := got.Gain.Dims()
		require.Equal(t, []int{r, c}, []int{gr, gc})
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				assert.InDelta(t, f.Gain.At(i, j), got.Gain.At(i, j), 1e-14)
			}
		}
	}
}

func TestReadStacksSolutions(t *testing.T) {
	f := newTestForward(fiff.SourceOriFixed)
	path := filepath.Join(t.TempDir(), "two-fwd.fif")
	w, err := fiff.Create(path)
	require.NoError(t, err)
	w.StartBlock(fiff.BlockMNE)
	for k := range f.Src {
		WriteSourceSpace(w, &f.Src[k])
	}
	for _, rows := range [][2]int{{0, 1}, {1, 4}} {
		w.StartBlock(fiff.BlockMNEForwardSolution)
		w.WriteInt(fiff.KindMNESourceOri, fiff.SourceOriFixed)
		w.StartBlock(fiff.BlockMNENamedMatrix)
		w.WriteNameList(fiff.KindMNERowNames, f.ChannelNames[rows[0]:rows[1]])
		_, cols := f.Gain.Dims()
		w.WriteFloatMatrix(fiff.KindMNEForwardSolution, f.Gain.Slice(rows[0], rows[1], 0, cols))
		w.EndBlock(fiff.BlockMNENamedMatrix)
		w.EndBlock(fiff.BlockMNEForwardSolution)
	}
	w.EndBlock(fiff.BlockMNE)
	require.NoError(t, w.Close())

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, f.ChannelNames, got.ChannelNames)
	assert.InDelta(t, f.Gain.At(3, 4), got.Gain.At(3, 4), 1e-14)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing-fwd.fif"))
	assert.Error(t, err)

	path := filepath.Join(dir, "empty-fwd.fif")
	w, err := fiff.Create(path)
	require.NoError(t, err)
	w.StartBlock(fiff.BlockMNE)
	w.EndBlock(fiff.BlockMNE)
	require.NoError(t, w.Close())
	_, err = Read(path)
	assert.Error(t, err)
}
