package fiff

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// FileVersion is written into the file id (major 1, minor 3).
const FileVersion int32 = 1<<16 | 3

// Writer emits a tag stream. Errors are sticky: after the first failure all
// further writes are ignored and Close reports it.
type Writer struct {
	w       *bufio.Writer
	closers []io.Closer
	blocks  []int32
	err     error
}

// Create opens path for writing and emits the file header. Paths ending in
// ".gz" are gzip-compressed.
func Create(path string) (*Writer, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{fh}
	var out io.Writer = fh
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(fh)
		// gzip must flush before the file closes
		closers = []io.Closer{gz, fh}
		out = gz
	}

	w := NewWriter(out)
	w.closers = closers
	return w, w.err
}

// NewWriter wraps out and emits the file header. Close flushes but does not
// close out.
func NewWriter(out io.Writer) *Writer {
	w := &Writer{w: bufio.NewWriter(out)}
	now := time.Now()
	w.WriteID(KindFileID, ID{
		Version: FileVersion,
		Secs:    int32(now.Unix()),
		USecs:   int32(now.Nanosecond() / 1000),
	})
	w.WriteInt(KindDirPointer, -1)
	return w
}

// Err reports the first write error.
func (w *Writer) Err() error { return w.err }

// Close flushes buffered tags and closes any files opened by Create.
func (w *Writer) Close() error {
	if w.err == nil && len(w.blocks) > 0 {
		w.err = fmt.Errorf("fiff: %d blocks left open", len(w.blocks))
	}
	if err := w.w.Flush(); err != nil && w.err == nil {
		w.err = err
	}
	for _, c := range w.closers {
		if err := c.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	w.closers = nil
	return w.err
}

func (w *Writer) tag(kind, typ int32, data []byte) {
	if w.err != nil {
		return
	}
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(kind))
	binary.BigEndian.PutUint32(hdr[4:], uint32(typ))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(data)))
	binary.BigEndian.PutUint32(hdr[12:], uint32(NextSeq))
	if _, err := w.w.Write(hdr[:]); err != nil {
		w.err = err
		return
	}
	if _, err := w.w.Write(data); err != nil {
		w.err = err
	}
}

// StartBlock opens a nested block.
func (w *Writer) StartBlock(kind int32) {
	w.WriteInt(KindBlockStart, kind)
	w.blocks = append(w.blocks, kind)
}

// EndBlock closes the innermost block, which must be of the given kind.
func (w *Writer) EndBlock(kind int32) {
	if w.err != nil {
		return
	}
	if n := len(w.blocks); n == 0 || w.blocks[n-1] != kind {
		w.err = fmt.Errorf("fiff: end of block %d does not match open blocks %v", kind, w.blocks)
		return
	}
	w.blocks = w.blocks[:len(w.blocks)-1]
	w.WriteInt(KindBlockEnd, kind)
}

// WriteInt writes a single int32.
func (w *Writer) WriteInt(kind int32, v int32) { w.WriteInts(kind, []int32{v}) }

// WriteInts writes an int32 array.
func (w *Writer) WriteInts(kind int32, v []int32) {
	w.tag(kind, TypeInt, encodeInts(v))
}

// WriteFloat writes a single float32.
func (w *Writer) WriteFloat(kind int32, v float64) { w.WriteFloats(kind, []float64{v}) }

// WriteFloats writes a float32 array, narrowing each value.
func (w *Writer) WriteFloats(kind int32, v []float64) {
	w.tag(kind, TypeFloat, encodeFloats(v))
}

// WriteDouble writes a single float64.
func (w *Writer) WriteDouble(kind int32, v float64) { w.WriteDoubles(kind, []float64{v}) }

// WriteDoubles writes a float64 array.
func (w *Writer) WriteDoubles(kind int32, v []float64) {
	w.tag(kind, TypeDouble, encodeDoubles(v))
}

// WriteString writes a string.
func (w *Writer) WriteString(kind int32, s string) {
	w.tag(kind, TypeString, []byte(s))
}

// WriteNameList writes names joined by colons.
func (w *Writer) WriteNameList(kind int32, names []string) {
	w.WriteString(kind, strings.Join(names, ":"))
}

// WriteID writes an id struct.
func (w *Writer) WriteID(kind int32, id ID) {
	w.tag(kind, TypeIDStruct, encodeInts([]int32{id.Version, id.MachID[0], id.MachID[1], id.Secs, id.USecs}))
}

// WriteChInfo writes a channel description record.
func (w *Writer) WriteChInfo(ch ChInfo) {
	if w.err != nil {
		return
	}
	if len(ch.Name) > chNameMaxSize {
		w.err = fmt.Errorf("fiff: channel name %q longer than %d bytes", ch.Name, chNameMaxSize)
		return
	}
	d := make([]byte, chInfoSize)
	be := binary.BigEndian
	be.PutUint32(d[0:], uint32(ch.ScanNo))
	be.PutUint32(d[4:], uint32(ch.LogNo))
	be.PutUint32(d[8:], uint32(ch.Kind))
	be.PutUint32(d[12:], math.Float32bits(ch.Range))
	be.PutUint32(d[16:], math.Float32bits(ch.Cal))
	be.PutUint32(d[20:], uint32(ch.CoilType))
	for i, v := range ch.Loc {
		be.PutUint32(d[24+4*i:], math.Float32bits(v))
	}
	be.PutUint32(d[72:], uint32(ch.Unit))
	be.PutUint32(d[76:], uint32(ch.UnitMul))
	copy(d[80:], ch.Name)
	w.tag(KindChInfo, TypeChInfo, d)
}

// WriteFloatMatrix writes m as a dense float32 matrix.
func (w *Writer) WriteFloatMatrix(kind int32, m mat.Matrix) {
	r, c := m.Dims()
	w.WriteFloatArray(kind, []int{r, c}, flatten(m))
}

// WriteDoubleMatrix writes m as a dense float64 matrix.
func (w *Writer) WriteDoubleMatrix(kind int32, m mat.Matrix) {
	r, c := m.Dims()
	w.tag(kind, TypeMatrixDouble, append(encodeDoubles(flatten(m)), encodeDims([]int{r, c})...))
}

// WriteFloatArray writes row-major values with the given dimensions as a
// dense float32 matrix of rank len(dims).
func (w *Writer) WriteFloatArray(kind int32, dims []int, vals []float64) {
	w.tag(kind, TypeMatrixFloat, append(encodeFloats(vals), encodeDims(dims)...))
}

// WriteIntMatrix writes row-major rows x cols integers as a dense int matrix.
func (w *Writer) WriteIntMatrix(kind int32, rows, cols int, vals []int32) {
	if w.err == nil && len(vals) != rows*cols {
		w.err = fmt.Errorf("fiff: int matrix %dx%d has %d values", rows, cols, len(vals))
		return
	}
	w.tag(kind, TypeMatrixInt, append(encodeInts(vals), encodeDims([]int{rows, cols})...))
}

func flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func encodeDims(dims []int) []byte {
	trailer := make([]int32, 0, len(dims)+1)
	for i := len(dims) - 1; i >= 0; i-- {
		trailer = append(trailer, int32(dims[i]))
	}
	trailer = append(trailer, int32(len(dims)))
	return encodeInts(trailer)
}

func encodeInts(v []int32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint32(out[4*i:], uint32(x))
	}
	return out
}

func encodeFloats(v []float64) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint32(out[4*i:], math.Float32bits(float32(x)))
	}
	return out
}

func encodeDoubles(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint64(out[8*i:], math.Float64bits(x))
	}
	return out
}
