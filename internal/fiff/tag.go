package fiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tag is a single kind/type/payload record.
type Tag struct {
	Kind int32
	Type int32
	Data []byte
}

// ID identifies a file or block.
type ID struct {
	Version int32
	MachID  [2]int32
	Secs    int32
	USecs   int32
}

const idStructSize = 20

// ChInfo is the fixed-size channel description record.
type ChInfo struct {
	ScanNo   int32
	LogNo    int32
	Kind     int32
	Range    float32
	Cal      float32
	CoilType int32
	Loc      [12]float32
	Unit     int32
	UnitMul  int32
	Name     string
}

const (
	chInfoSize    = 96
	chNameMaxSize = 16
)

func (t *Tag) base() int32 { return t.Type & TypeBaseMask }

func (t *Tag) expect(want int32) error {
	if t.Type != want {
		return fmt.Errorf("fiff: tag %d has type %#x, want %#x", t.Kind, t.Type, want)
	}
	return nil
}

// Int decodes a single int32 payload.
func (t *Tag) Int() (int32, error) {
	v, err := t.Ints()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("fiff: tag %d is empty", t.Kind)
	}
	return v[0], nil
}

// Ints decodes an int32 array payload.
func (t *Tag) Ints() ([]int32, error) {
	if err := t.expect(TypeInt); err != nil {
		return nil, err
	}
	return decodeInts(t.Data), nil
}

// Float64 decodes a single float or double payload.
func (t *Tag) Float64() (float64, error) {
	v, err := t.Float64s()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("fiff: tag %d is empty", t.Kind)
	}
	return v[0], nil
}

// Float64s decodes a float or double array payload, widening floats.
func (t *Tag) Float64s() ([]float64, error) {
	switch t.Type {
	case TypeFloat:
		return decodeFloats(t.Data), nil
	case TypeDouble:
		return decodeDoubles(t.Data), nil
	case TypeShort:
		out := make([]float64, len(t.Data)/2)
		for i := range out {
			out[i] = float64(int16(binary.BigEndian.Uint16(t.Data[2*i:])))
		}
		return out, nil
	case TypeInt:
		ints := decodeInts(t.Data)
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("fiff: tag %d has non-numeric type %#x", t.Kind, t.Type)
}

// Text decodes a string payload.
func (t *Tag) Text() (string, error) {
	if err := t.expect(TypeString); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(t.Data, "\x00")), nil
}

// NameList decodes a colon separated list of names.
func (t *Tag) NameList() ([]string, error) {
	s, err := t.Text()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, ":"), nil
}

// IDStruct decodes an id payload.
func (t *Tag) IDStruct() (ID, error) {
	if err := t.expect(TypeIDStruct); err != nil {
		return ID{}, err
	}
	if len(t.Data) < idStructSize {
		return ID{}, fmt.Errorf("fiff: short id struct (%d bytes)", len(t.Data))
	}
	v := decodeInts(t.Data[:idStructSize])
	return ID{Version: v[0], MachID: [2]int32{v[1], v[2]}, Secs: v[3], USecs: v[4]}, nil
}

// ChInfo decodes a channel description payload.
func (t *Tag) ChInfo() (ChInfo, error) {
	if err := t.expect(TypeChInfo); err != nil {
		return ChInfo{}, err
	}
	if len(t.Data) < chInfoSize {
		return ChInfo{}, fmt.Errorf("fiff: short channel info (%d bytes)", len(t.Data))
	}
	d := t.Data
	be := binary.BigEndian
	ch := ChInfo{
		ScanNo:   int32(be.Uint32(d[0:])),
		LogNo:    int32(be.Uint32(d[4:])),
		Kind:     int32(be.Uint32(d[8:])),
		Range:    math.Float32frombits(be.Uint32(d[12:])),
		Cal:      math.Float32frombits(be.Uint32(d[16:])),
		CoilType: int32(be.Uint32(d[20:])),
		Unit:     int32(be.Uint32(d[72:])),
		UnitMul:  int32(be.Uint32(d[76:])),
		Name:     string(bytes.TrimRight(d[80:96], "\x00")),
	}
	for i := range ch.Loc {
		ch.Loc[i] = math.Float32frombits(be.Uint32(d[24+4*i:]))
	}
	return ch, nil
}

// MatrixDims decodes the dimensions trailer of a dense matrix payload,
// outermost dimension first.
func (t *Tag) MatrixDims() ([]int, error) {
	if t.Type&TypeMatrix == 0 {
		return nil, fmt.Errorf("fiff: tag %d is not a matrix", t.Kind)
	}
	n := len(t.Data)
	if n < 4 {
		return nil, fmt.Errorf("fiff: tag %d matrix trailer truncated", t.Kind)
	}
	ndim := int(int32(binary.BigEndian.Uint32(t.Data[n-4:])))
	if ndim < 1 || ndim > 3 || n < 4*(ndim+1) {
		return nil, fmt.Errorf("fiff: tag %d has invalid matrix rank %d", t.Kind, ndim)
	}
	dims := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		// trailer stores dims innermost first
		dims[ndim-1-i] = int(int32(binary.BigEndian.Uint32(t.Data[n-4*(ndim+1)+4*i:])))
	}
	return dims, nil
}

// MatrixValues returns the dimensions and flattened row-major values of a
// dense int, float or double matrix payload.
func (t *Tag) MatrixValues() ([]int, []float64, error) {
	dims, err := t.MatrixDims()
	if err != nil {
		return nil, nil, err
	}
	count := 1
	for _, d := range dims {
		if d < 0 {
			return nil, nil, fmt.Errorf("fiff: tag %d has negative dimension", t.Kind)
		}
		count *= d
	}

	var width int
	switch t.base() {
	case TypeInt, TypeFloat:
		width = 4
	case TypeDouble:
		width = 8
	default:
		return nil, nil, fmt.Errorf("fiff: tag %d has unsupported matrix type %#x", t.Kind, t.Type)
	}
	body := len(t.Data) - 4*(len(dims)+1)
	if body != count*width {
		return nil, nil, fmt.Errorf("fiff: tag %d matrix payload is %d bytes, want %d", t.Kind, body, count*width)
	}

	raw := t.Data[:body]
	var vals []float64
	switch t.base() {
	case TypeInt:
		ints := decodeInts(raw)
		vals = make([]float64, len(ints))
		for i, v := range ints {
			vals[i] = float64(v)
		}
	case TypeFloat:
		vals = decodeFloats(raw)
	case TypeDouble:
		vals = decodeDoubles(raw)
	}
	return dims, vals, nil
}

// Matrix decodes a two-dimensional dense matrix payload.
func (t *Tag) Matrix() (*mat.Dense, error) {
	dims, vals, err := t.MatrixValues()
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("fiff: tag %d has rank %d, want 2", t.Kind, len(dims))
	}
	if dims[0] == 0 || dims[1] == 0 {
		return nil, fmt.Errorf("fiff: tag %d is an empty matrix", t.Kind)
	}
	return mat.NewDense(dims[0], dims[1], vals), nil
}

func decodeInts(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(b[4*i:]))
	}
	return out
}

func decodeFloats(b []byte) []float64 {
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b[4*i:])))
	}
	return out
}

func decodeDoubles(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[8*i:]))
	}
	return out
}
