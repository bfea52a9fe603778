package inverse

import (
	"fmt"

	"github.com/acpuchades/eegtools/internal/covariance"
	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/forward"
	"github.com/acpuchades/eegtools/internal/meas"
)

// Save writes the operator. Paths ending in ".gz" are compressed.
func (op *Operator) Save(path string) error {
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMNE)
	if op.Subject != "" {
		w.WriteString(fiff.KindMNESubject, op.Subject)
	}

	w.StartBlock(fiff.BlockMNEInverseSolution)
	w.WriteInt(fiff.KindMNEIncludedMethods, fiff.MethodEEG)
	w.WriteInt(fiff.KindMNEInverseSourceOri, op.SourceOri)
	w.WriteInt(fiff.KindMNECoordFrame, op.CoordFrame)
	w.WriteInt(fiff.KindMNESourceNPoints, int32(op.NumSources()))
	w.WriteInt(fiff.KindNAve, int32(op.NAve))
	w.WriteDouble(fiff.KindMNEDepthExponent, op.Depth)
	w.WriteNameList(fiff.KindMNERowNames, op.ChannelNames)
	w.WriteDoubles(fiff.KindMNEInverseSing, op.Sing)
	w.WriteDoubles(fiff.KindMNEDepthPrior, op.SourceCov)
	w.WriteDoubleMatrix(fiff.KindMNEWhitener, op.Whitener)
	w.WriteDoubleMatrix(fiff.KindMNEInverseLeads, op.EigenLeads)
	w.WriteDoubleMatrix(fiff.KindMNEInverseFields, op.EigenFields)
	meas.WriteProjectors(w, op.Projs)
	w.EndBlock(fiff.BlockMNEInverseSolution)

	if op.NoiseCov != nil {
		op.NoiseCov.Write(w)
	}
	for k := range op.Src {
		forward.WriteSourceSpace(w, &op.Src[k])
	}
	w.EndBlock(fiff.BlockMNE)
	return w.Close()
}

// Read loads an operator written by Save.
func Read(path string) (*Operator, error) {
	f, err := fiff.Open(path)
	if err != nil {
		return nil, err
	}
	op, err := readOperator(f.Root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return op, nil
}

func readOperator(root *fiff.Block) (*Operator, error) {
	mne := root.FindFirst(fiff.BlockMNE)
	if mne == nil {
		return nil, fmt.Errorf("no MNE block: %w", fiff.ErrTagNotFound)
	}
	b := mne.Child(fiff.BlockMNEInverseSolution)
	if b == nil {
		return nil, fmt.Errorf("no inverse solution block: %w", fiff.ErrTagNotFound)
	}

	op := &Operator{}
	var err error
	if op.Subject, err = mne.TextOr(fiff.KindMNESubject); err != nil {
		return nil, err
	}
	if op.SourceOri, err = b.Int(fiff.KindMNEInverseSourceOri); err != nil {
		return nil, err
	}
	if op.CoordFrame, err = b.IntOr(fiff.KindMNECoordFrame, fiff.CoordHead); err != nil {
		return nil, err
	}
	nave, err := b.IntOr(fiff.KindNAve, 1)
	if err != nil {
		return nil, err
	}
	op.NAve = int(nave)
	if b.Has(fiff.KindMNEDepthExponent) {
		if op.Depth, err = b.Float64(fiff.KindMNEDepthExponent); err != nil {
			return nil, err
		}
	}
	if op.ChannelNames, err = b.NameList(fiff.KindMNERowNames); err != nil {
		return nil, err
	}
	if op.Sing, err = floatsOf(b, fiff.KindMNEInverseSing); err != nil {
		return nil, err
	}
	if op.SourceCov, err = floatsOf(b, fiff.KindMNEDepthPrior); err != nil {
		return nil, err
	}
	if op.Whitener, err = b.Matrix(fiff.KindMNEWhitener); err != nil {
		return nil, err
	}
	if op.EigenLeads, err = b.Matrix(fiff.KindMNEInverseLeads); err != nil {
		return nil, err
	}
	if op.EigenFields, err = b.Matrix(fiff.KindMNEInverseFields); err != nil {
		return nil, err
	}
	if op.Projs, err = meas.ReadProjectors(b); err != nil {
		return nil, err
	}
	if cb := mne.Child(fiff.BlockMNECov); cb != nil {
		if op.NoiseCov, err = covariance.ReadBlock(cb); err != nil {
			return nil, err
		}
	}
	for _, sb := range mne.Find(fiff.BlockMNESourceSpace) {
		src, err := forward.ReadSourceSpace(sb)
		if err != nil {
			return nil, err
		}
		op.Src = append(op.Src, src)
	}
	if err := op.validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func floatsOf(b *fiff.Block, kind int32) ([]float64, error) {
	t := b.Tag(kind)
	if t == nil {
		return nil, fmt.Errorf("tag %d: %w", kind, fiff.ErrTagNotFound)
	}
	return t.Float64s()
}

// validate checks that the stored matrices agree with each other.
func (op *Operator) validate() error {
	rank, nchan := op.Whitener.Dims()
	if nchan != len(op.ChannelNames) {
		return fmt.Errorf("whitener has %d columns for %d channels", nchan, len(op.ChannelNames))
	}
	fr, fc := op.EigenFields.Dims()
	lr, lc := op.EigenLeads.Dims()
	switch {
	case fr != rank:
		return fmt.Errorf("eigen fields have %d rows, whitener rank is %d", fr, rank)
	case fc != len(op.Sing) || lc != len(op.Sing):
		return fmt.Errorf("decomposition has %d singular values for %d and %d components", len(op.Sing), fc, lc)
	case lr != len(op.SourceCov):
		return fmt.Errorf("eigen leads have %d rows for %d source variances", lr, len(op.SourceCov))
	}
	nsrc := 0
	for k := range op.Src {
		nsrc += op.Src[k].NumUsed()
	}
	if nsrc*op.NumOrient() != lr {
		return fmt.Errorf("source spaces hold %d sources for %d gain columns", nsrc, lr)
	}
	return nil
}
