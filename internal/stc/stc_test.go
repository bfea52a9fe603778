package stc

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newEstimate() *SourceEstimate {
	return &SourceEstimate{
		Vertices: [][]int{{3, 7}, {1}},
		Data: mat.NewDense(3, 4, []float64{
			1, 2, 3, 4,
			5, 6, 7, 8,
			-1, -2, -3, -4,
		}),
		TMin:  -0.1,
		TStep: 0.004,
	}
}

func TestEncodeLayout(t *testing.T) {
	var buf bytes.Buffer
	data := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	require.NoError(t, Encode(&buf, []int{10, 20}, data, 0.5, 0.01))

	be := binary.BigEndian
	b := buf.Bytes()
	require.Len(t, b, 4*(3+2+1+4))
	assert.Equal(t, float32(500), math.Float32frombits(be.Uint32(b[0:])))
	assert.Equal(t, float32(10), math.Float32frombits(be.Uint32(b[4:])))
	assert.Equal(t, uint32(2), be.Uint32(b[8:]))
	assert.Equal(t, uint32(10), be.Uint32(b[12:]))
	assert.Equal(t, uint32(20), be.Uint32(b[16:]))
	assert.Equal(t, uint32(2), be.Uint32(b[20:]))

	var values []float32
	for off := 24; off < len(b); off += 4 {
		values = append(values, math.Float32frombits(be.Uint32(b[off:])))
	}
	assert.Equal(t, []float32{1, 3, 2, 4}, values, "values are stored time-major")
}

func TestSaveLoadSurface(t *testing.T) {
	s := newEstimate()
	stem := filepath.Join(t.TempDir(), "sample.dSPM")
	written, err := s.Save(stem)
	require.NoError(t, err)
	assert.Equal(t, []string{stem + "-lh.stc", stem + "-rh.stc"}, written)

	got, err := Load(stem)
	require.NoError(t, err)
	assert.Equal(t, s.Vertices, got.Vertices)
	assert.InDelta(t, s.TMin, got.TMin, 1e-7)
	assert.InDelta(t, s.TStep, got.TStep, 1e-9)
	assert.True(t, mat.Equal(s.Data, got.Data))

	lh, err := Read(stem + "-lh.stc")
	require.NoError(t, err)
	assert.Equal(t, [][]int{{3, 7}}, lh.Vertices)
	assert.Equal(t, 4, lh.NTimes())
}

func TestSaveLoadVolume(t *testing.T) {
	s := &SourceEstimate{
		Vertices: [][]int{{0, 5, 9}},
		Data:     mat.NewDense(3, 1, []float64{1, 2, 3}),
		TStep:    0.01,
		Volume:   true,
	}
	stem := filepath.Join(t.TempDir(), "vol.MNE")
	written, err := s.Save(stem)
	require.NoError(t, err)
	assert.Equal(t, []string{stem + "-vl.stc"}, written)

	got, err := Load(stem)
	require.NoError(t, err)
	assert.True(t, got.Volume)
	assert.Equal(t, 3, got.NumSources())
}

func TestSaveValidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SourceEstimate)
	}{
		{"row mismatch", func(s *SourceEstimate) { s.Vertices[0] = []int{3} }},
		{"one hemisphere", func(s *SourceEstimate) { s.Vertices = s.Vertices[:1] }},
		{"volume with two spaces", func(s *SourceEstimate) { s.Volume = true }},
		{"empty hemisphere", func(s *SourceEstimate) { s.Vertices = [][]int{{3, 7, 1}, {}} }},
		{"no data", func(s *SourceEstimate) { s.Data = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newEstimate()
			tc.mutate(s)
			_, err := s.Save(filepath.Join(t.TempDir(), "x"))
			assert.Error(t, err)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, _, _, _, err := Decode(bytes.NewReader([]byte{0, 0}))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []int{1}, mat.NewDense(1, 2, []float64{1, 2}), 0, 0.01))
	truncated := buf.Bytes()[:buf.Len()-4]
	_, _, _, _, err = Decode(bytes.NewReader(truncated))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestTimes(t *testing.T) {
	s := newEstimate()
	times := s.Times()
	require.Len(t, times, 4)
	assert.InDelta(t, -0.1, times[0], 1e-12)
	assert.InDelta(t, -0.088, times[3], 1e-12)
}

func TestLoadMismatchedHemispheres(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "bad")
	var lh, rh bytes.Buffer
	require.NoError(t, Encode(&lh, []int{1}, mat.NewDense(1, 2, nil), 0, 0.01))
	require.NoError(t, Encode(&rh, []int{1}, mat.NewDense(1, 3, nil), 0, 0.01))
	require.NoError(t, os.WriteFile(stem+SuffixLeft, lh.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(stem+SuffixRight, rh.Bytes(), 0o644))
	_, err := Load(stem)
	assert.Error(t, err)
}
