package covariance

import (
	"fmt"

	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/meas"
	"gonum.org/v1/gonum/mat"
)

// Read loads the first covariance stored in path.
func Read(path string) (*Covariance, error) {
	f, err := fiff.Open(path)
	if err != nil {
		return nil, err
	}
	b := f.Root.FindFirst(fiff.BlockMNECov)
	if b == nil {
		return nil, fmt.Errorf("%s: no covariance block", path)
	}
	c, err := ReadBlock(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ReadBlock decodes a covariance block.
func ReadBlock(b *fiff.Block) (*Covariance, error) {
	kind, err := b.IntOr(fiff.KindMNECovKind, fiff.CovNoise)
	if err != nil {
		return nil, err
	}
	dim, err := b.Int(fiff.KindMNECovDim)
	if err != nil {
		return nil, err
	}
	names, err := b.NameList(fiff.KindMNERowNames)
	if err != nil {
		return nil, err
	}
	if len(names) != int(dim) {
		return nil, fmt.Errorf("covariance lists %d names for dimension %d", len(names), dim)
	}
	nfree, err := b.IntOr(fiff.KindMNECovNFree, 1)
	if err != nil {
		return nil, err
	}

	n := int(dim)
	data := mat.NewSymDense(n, nil)
	switch {
	case b.Has(fiff.KindMNECovDiag):
		t := b.Tag(fiff.KindMNECovDiag)
		diag, err := t.Float64s()
		if err != nil {
			return nil, err
		}
		if len(diag) != n {
			return nil, fmt.Errorf("diagonal covariance has %d values for dimension %d", len(diag), n)
		}
		for k, v := range diag {
			data.SetSym(k, k, v)
		}
	case b.Has(fiff.KindMNECov):
		t := b.Tag(fiff.KindMNECov)
		if t.Type&fiff.TypeMatrix != 0 {
			m, err := t.Matrix()
			if err != nil {
				return nil, err
			}
			if r, c := m.Dims(); r != n || c != n {
				return nil, fmt.Errorf("covariance matrix is %dx%d for dimension %d", r, c, n)
			}
			data = symmetrize(m)
			break
		}
		// packed lower triangle, row by row
		packed, err := t.Float64s()
		if err != nil {
			return nil, err
		}
		if len(packed) != n*(n+1)/2 {
			return nil, fmt.Errorf("packed covariance has %d values for dimension %d", len(packed), n)
		}
		k := 0
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				data.SetSym(i, j, packed[k])
				k++
			}
		}
	default:
		return nil, fmt.Errorf("covariance block has no data: %w", fiff.ErrTagNotFound)
	}

	c := &Covariance{Kind: kind, Names: names, Data: data, NFree: int(nfree)}
	if c.Projs, err = meas.ReadProjectors(b); err != nil {
		return nil, err
	}
	if bads := b.Child(fiff.BlockMNEBadChannels); bads != nil {
		if c.Bads, err = bads.NameList(fiff.KindMNEChNameList); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Save writes the covariance as a packed lower triangle of doubles.
func (c *Covariance) Save(path string) error {
	w, err := fiff.Create(path)
	if err != nil {
		return err
	}
	w.StartBlock(fiff.BlockMNE)
	c.Write(w)
	w.EndBlock(fiff.BlockMNE)
	return w.Close()
}

// Write emits the covariance block into an open writer.
func (c *Covariance) Write(w *fiff.Writer) {
	n := len(c.Names)
	w.StartBlock(fiff.BlockMNECov)
	w.WriteInt(fiff.KindMNECovKind, c.Kind)
	w.WriteInt(fiff.KindMNECovDim, int32(n))
	w.WriteNameList(fiff.KindMNERowNames, c.Names)
	w.WriteInt(fiff.KindMNECovNFree, int32(c.NFree))
	packed := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			packed = append(packed, c.Data.At(i, j))
		}
	}
	w.WriteDoubles(fiff.KindMNECov, packed)
	meas.WriteProjectors(w, c.Projs)
	if len(c.Bads) > 0 {
		w.StartBlock(fiff.BlockMNEBadChannels)
		w.WriteNameList(fiff.KindMNEChNameList, c.Bads)
		w.EndBlock(fiff.BlockMNEBadChannels)
	}
	w.EndBlock(fiff.BlockMNECov)
}
