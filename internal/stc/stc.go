// Package stc stores source time courses in the .stc layout: one big-endian
// file per hemisphere (or one for a volume source space).
//
// Layout:
//
//	float32  tmin in milliseconds
//	float32  tstep in milliseconds
//	uint32   number of vertices
//	uint32   vertex numbers
//	uint32   number of time points
//	float32  values, all vertices of the first time point, then the next
package stc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// File suffixes appended to a stem by Save.
const (
	SuffixLeft   = "-lh.stc"
	SuffixRight  = "-rh.stc"
	SuffixVolume = "-vl.stc"
)

// SourceEstimate is activity over time for a set of source vertices. Data rows
// follow Vertices flattened in order.
type SourceEstimate struct {
	Vertices [][]int
	Data     *mat.Dense // sources x times
	TMin     float64
	TStep    float64
	Subject  string
	Volume   bool
}

// NumSources returns the number of vertices across all source spaces.
func (s *SourceEstimate) NumSources() int {
	n := 0
	for _, v := range s.Vertices {
		n += len(v)
	}
	return n
}

// NTimes returns the number of time points.
func (s *SourceEstimate) NTimes() int {
	_, n := s.Data.Dims()
	return n
}

// Times returns the time of every sample in seconds.
func (s *SourceEstimate) Times() []float64 {
	out := make([]float64, s.NTimes())
	for k := range out {
		out[k] = s.TMin + float64(k)*s.TStep
	}
	return out
}

func (s *SourceEstimate) validate() error {
	if s.Data == nil {
		return errors.New("stc: no data")
	}
	rows, _ := s.Data.Dims()
	if rows != s.NumSources() {
		return fmt.Errorf("stc: data has %d rows for %d vertices", rows, s.NumSources())
	}
	switch {
	case s.Volume && len(s.Vertices) != 1:
		return fmt.Errorf("stc: volume estimate with %d source spaces", len(s.Vertices))
	case !s.Volume && len(s.Vertices) != 2:
		return fmt.Errorf("stc: surface estimate with %d hemispheres", len(s.Vertices))
	}
	for k, v := range s.Vertices {
		if len(v) == 0 {
			return fmt.Errorf("stc: source space %d has no vertices", k)
		}
	}
	return nil
}

// Save writes the estimate next to stem and returns the files written.
func (s *SourceEstimate) Save(stem string) ([]string, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	suffixes := []string{SuffixLeft, SuffixRight}
	if s.Volume {
		suffixes = []string{SuffixVolume}
	}
	var written []string
	row := 0
	for k, suffix := range suffixes {
		path := stem + suffix
		n := len(s.Vertices[k])
		if err := writeFile(path, s.Vertices[k], s.Data.Slice(row, row+n, 0, s.NTimes()), s.TMin, s.TStep); err != nil {
			return written, err
		}
		written = append(written, path)
		row += n
	}
	return written, nil
}

func writeFile(path string, vertices []int, data mat.Matrix, tmin, tstep float64) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(fh)
	if err := Encode(w, vertices, data, tmin, tstep); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return w.Flush()
}

// Encode writes a single source space in the stc layout.
func Encode(w io.Writer, vertices []int, data mat.Matrix, tmin, tstep float64) error {
	nvert, ntimes := data.Dims()
	if nvert != len(vertices) {
		return fmt.Errorf("data has %d rows for %d vertices", nvert, len(vertices))
	}
	buf := make([]byte, 0, 16+4*len(vertices)+4*nvert*ntimes)
	be := binary.BigEndian
	buf = be.AppendUint32(buf, math.Float32bits(float32(1000*tmin)))
	buf = be.AppendUint32(buf, math.Float32bits(float32(1000*tstep)))
	buf = be.AppendUint32(buf, uint32(len(vertices)))
	for _, v := range vertices {
		buf = be.AppendUint32(buf, uint32(v))
	}
	buf = be.AppendUint32(buf, uint32(ntimes))
	for t := 0; t < ntimes; t++ {
		for r := 0; r < nvert; r++ {
			buf = be.AppendUint32(buf, math.Float32bits(float32(data.At(r, t))))
		}
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads a single source space in the stc layout.
func Decode(r io.Reader) (vertices []int, data *mat.Dense, tmin, tstep float64, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	be := binary.BigEndian
	next := func() (uint32, error) {
		if len(raw) < 4 {
			return 0, io.ErrUnexpectedEOF
		}
		v := be.Uint32(raw)
		raw = raw[4:]
		return v, nil
	}
	var hdr [3]uint32
	for k := range hdr {
		if hdr[k], err = next(); err != nil {
			return nil, nil, 0, 0, err
		}
	}
	tmin = float64(math.Float32frombits(hdr[0])) / 1000
	tstep = float64(math.Float32frombits(hdr[1])) / 1000
	nvert := int(hdr[2])
	if nvert*4 > len(raw) {
		return nil, nil, 0, 0, fmt.Errorf("%d vertices exceed the file size", nvert)
	}
	vertices = make([]int, nvert)
	for k := range vertices {
		v, _ := next()
		vertices[k] = int(v)
	}
	nt, err := next()
	if err != nil {
		return nil, nil, 0, 0, err
	}
	ntimes := int(nt)
	if len(raw) != 4*nvert*ntimes {
		return nil, nil, 0, 0, fmt.Errorf("payload is %d bytes, want %d", len(raw), 4*nvert*ntimes)
	}
	if nvert == 0 || ntimes == 0 {
		return nil, nil, 0, 0, errors.New("empty source estimate")
	}
	data = mat.NewDense(nvert, ntimes, nil)
	for t := 0; t < ntimes; t++ {
		for v := 0; v < nvert; v++ {
			x, _ := next()
			data.Set(v, t, float64(math.Float32frombits(x)))
		}
	}
	return vertices, data, tmin, tstep, nil
}

// Read loads one stc file as a single-source-space estimate.
func Read(path string) (*SourceEstimate, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	vertices, data, tmin, tstep, err := Decode(bufio.NewReader(fh))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &SourceEstimate{
		Vertices: [][]int{vertices},
		Data:     data,
		TMin:     tmin,
		TStep:    tstep,
		Volume:   strings.HasSuffix(path, SuffixVolume),
	}, nil
}

// Load reads the files Save wrote for stem: the volume file if present,
// otherwise both hemispheres.
func Load(stem string) (*SourceEstimate, error) {
	if _, err := os.Stat(stem + SuffixVolume); err == nil {
		return Read(stem + SuffixVolume)
	}
	lh, err := Read(stem + SuffixLeft)
	if err != nil {
		return nil, err
	}
	rh, err := Read(stem + SuffixRight)
	if err != nil {
		return nil, err
	}
	if lh.NTimes() != rh.NTimes() {
		return nil, fmt.Errorf("stc: hemispheres have %d and %d time points", lh.NTimes(), rh.NTimes())
	}
	var data mat.Dense
	data.Stack(lh.Data, rh.Data)
	return &SourceEstimate{
		Vertices: [][]int{lh.Vertices[0], rh.Vertices[0]},
		Data:     &data,
		TMin:     lh.TMin,
		TStep:    lh.TStep,
	}, nil
}
