package forward

import (
	"fmt"

	"github.com/acpuchades/eegtools/internal/fiff"
	"gonum.org/v1/gonum/mat"
)

// Read loads a forward solution. MEG and EEG solutions stored in separate
// blocks are stacked, MEG first.
func Read(path string) (*Forward, error) {
	f, err := fiff.Open(path)
	if err != nil {
		return nil, err
	}
	mne := f.Root.FindFirst(fiff.BlockMNE)
	if mne == nil {
		return nil, fmt.Errorf("%s: no MNE block", path)
	}

	fwd := &Forward{}
	if fwd.Subject, err = mne.TextOr(fiff.KindMNESubject); err != nil {
		return nil, err
	}
	for _, b := range mne.Find(fiff.BlockMNESourceSpace) {
		src, err := ReadSourceSpace(b)
		if err != nil {
			return nil, fmt.Errorf("%s: source space: %w", path, err)
		}
		fwd.Src = append(fwd.Src, src)
	}
	if len(fwd.Src) == 0 {
		return nil, fmt.Errorf("%s: no source spaces", path)
	}

	sols := mne.Find(fiff.BlockMNEForwardSolution)
	if len(sols) == 0 {
		return nil, fmt.Errorf("%s: no forward solution", path)
	}
	var gains []*mat.Dense
	for k, b := range sols {
		names, gain, ori, coord, err := readSolution(b)
		if err != nil {
			return nil, fmt.Errorf("%s: solution #%d: %w", path, k, err)
		}
		if k > 0 && ori != fwd.SourceOri {
			return nil, fmt.Errorf("%s: solutions disagree on source orientation", path)
		}
		fwd.SourceOri, fwd.CoordFrame = ori, coord
		fwd.ChannelNames = append(fwd.ChannelNames, names...)
		gains = append(gains, gain)
	}
	if fwd.Gain, err = stack(gains); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := fwd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fwd, nil
}

// ReadSourceSpace decodes a source-space block.
func ReadSourceSpace(b *fiff.Block) (SourceSpace, error) {
	var s SourceSpace
	var err error
	if s.Kind, err = b.IntOr(fiff.KindMNESourceType, fiff.SourceSpaceSurface); err != nil {
		return s, err
	}
	if s.ID, err = b.IntOr(fiff.KindMNESourceSpaceID, 0); err != nil {
		return s, err
	}
	npts, err := b.Int(fiff.KindMNESourceNPoints)
	if err != nil {
		return s, err
	}
	if s.Points, err = b.Matrix(fiff.KindMNESourcePoints); err != nil {
		return s, err
	}
	if r, c := s.Points.Dims(); r != int(npts) || c != 3 {
		return s, fmt.Errorf("points are %dx%d for %d locations", r, c, npts)
	}
	if b.Has(fiff.KindMNESourceNormals) {
		if s.Normals, err = b.Matrix(fiff.KindMNESourceNormals); err != nil {
			return s, err
		}
	}

	t := b.Tag(fiff.KindMNESourceSelection)
	if t == nil {
		// every location in use
		s.Vertno = make([]int, npts)
		for k := range s.Vertno {
			s.Vertno[k] = k
		}
		return s, nil
	}
	inuse, err := t.Ints()
	if err != nil {
		return s, err
	}
	if len(inuse) != int(npts) {
		return s, fmt.Errorf("selection has %d entries for %d locations", len(inuse), npts)
	}
	for k, v := range inuse {
		if v != 0 {
			s.Vertno = append(s.Vertno, k)
		}
	}
	if nuse, err := b.IntOr(fiff.KindMNESourceNUse, int32(len(s.Vertno))); err != nil {
		return s, err
	} else if int(nuse) != len(s.Vertno) {
		return s, fmt.Errorf("selection marks %d locations, header says %d", len(s.Vertno), nuse)
	}
	return s, nil
}

func readSolution(b *fiff.Block) ([]string, *mat.Dense, int32, int32, error) {
	ori, err := b.Int(fiff.KindMNESourceOri)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	coord, err := b.IntOr(fiff.KindMNECoordFrame, fiff.CoordHead)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	nm := b.Child(fiff.BlockMNENamedMatrix)
	if nm == nil {
		return nil, nil, 0, 0, fmt.Errorf("no gain matrix: %w", fiff.ErrTagNotFound)
	}
	names, err := nm.NameList(fiff.KindMNERowNames)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	gain, err := nm.Matrix(fiff.KindMNEForwardSolution)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	return names, gain, ori, coord, nil
}

func stack(parts []*mat.Dense) (*mat.Dense, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	_, cols := parts[0].Dims()
	rows := 0
	for _, p := range parts {
		r, c := p.Dims()
		if c != cols {
			return nil, fmt.Errorf("gain matrices have %d and %d columns", cols, c)
		}
		rows += r
	}
	out := mat.NewDense(rows, cols, nil)
	r0 := 0
	for _, p := range parts {
		r, _ := p.Dims()
		out.Slice(r0, r0+r, 0, cols).(*mat.Dense).Copy(p)
		r0 += r
	}
	return out, nil
}

// Save writes the forward model as a single solution block.
func (f *Forward) Save(path string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMNE)
	if f.Subject != "" {
		w.WriteString(fiff.KindMNESubject, f.Subject)
	}
	for k := range f.Src {
		WriteSourceSpace(w, &f.Src[k])
	}

	w.StartBlock(fiff.BlockMNEForwardSolution)
	w.WriteInt(fiff.KindMNEIncludedMethods, fiff.MethodEEG)
	w.WriteInt(fiff.KindMNECoordFrame, f.CoordFrame)
	w.WriteInt(fiff.KindMNESourceOri, f.SourceOri)
	w.WriteInt(fiff.KindMNESourceNPoints, int32(f.NumSources()))
	w.WriteInt(fiff.KindNChan, int32(len(f.ChannelNames)))
	rows, cols := f.Gain.Dims()
	w.StartBlock(fiff.BlockMNENamedMatrix)
	w.WriteInt(fiff.KindMNENRow, int32(rows))
	w.WriteInt(fiff.KindMNENCol, int32(cols))
	w.WriteNameList(fiff.KindMNERowNames, f.ChannelNames)
	w.WriteFloatMatrix(fiff.KindMNEForwardSolution, f.Gain)
	w.EndBlock(fiff.BlockMNENamedMatrix)
	w.EndBlock(fiff.BlockMNEForwardSolution)

	w.EndBlock(fiff.BlockMNE)
	return w.Close()
}

// WriteSourceSpace emits s as a source-space block with an in-use mask.
func WriteSourceSpace(w *fiff.Writer, s *SourceSpace) {
	npts, _ := s.Points.Dims()
	inuse := make([]int32, npts)
	for _, v := range s.Vertno {
		inuse[v] = 1
	}
	w.StartBlock(fiff.BlockMNESourceSpace)
	w.WriteInt(fiff.KindMNESourceType, s.Kind)
	if s.ID != 0 {
		w.WriteInt(fiff.KindMNESourceSpaceID, s.ID)
	}
	w.WriteInt(fiff.KindMNESourceNPoints, int32(npts))
	w.WriteFloatMatrix(fiff.KindMNESourcePoints, s.Points)
	if s.Normals != nil {
		w.WriteFloatMatrix(fiff.KindMNESourceNormals, s.Normals)
	}
	w.WriteInts(fiff.KindMNESourceSelection, inuse)
	w.WriteInt(fiff.KindMNESourceNUse, int32(len(s.Vertno)))
	w.EndBlock(fiff.BlockMNESourceSpace)
}
