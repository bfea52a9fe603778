// Package covariance estimates sensor noise covariance matrices from
// continuous recordings or from the pre-stimulus part of epochs.
package covariance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/meas"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// segmentLength is the duration in seconds of the chunks raw data is split into.
const segmentLength = 0.2

// ErrTooFewSamples is returned when the estimate would have no degrees of freedom.
var ErrTooFewSamples = errors.New("not enough samples to estimate a covariance")

// Covariance is a channel covariance with the metadata needed to whiten data.
type Covariance struct {
	Kind  int32
	Names []string
	Data  *mat.SymDense
	NFree int
	Projs []meas.Projector
	Bads  []string
}

// Options controls estimation. TMin and TMax bound the epoch window used by
// ComputeEpochs; nil means the epoch start or end. Jobs is the number of
// parallel workers: zero means one, negative means one per CPU.
type Options struct {
	TMin *float64
	TMax *float64
	Jobs int
}

func (o Options) workers() int {
	switch {
	case o.Jobs < 0:
		return runtime.GOMAXPROCS(0)
	case o.Jobs == 0:
		return 1
	}
	return o.Jobs
}

// partial holds the running sums of one worker.
type partial struct {
	xxt  *mat.SymDense
	sum  []float64
	n    int
	free int
}

func newPartial(nchan int) *partial {
	return &partial{xxt: mat.NewSymDense(nchan, nil), sum: make([]float64, nchan)}
}

// add accumulates columns [lo, hi) of m restricted to rows picks.
func (p *partial) add(m mat.Matrix, picks []int, lo, hi int) {
	x := mat.NewDense(len(picks), hi-lo, nil)
	for r, c := range picks {
		for t := lo; t < hi; t++ {
			x.Set(r, t-lo, m.At(c, t))
		}
	}
	p.xxt.SymRankK(p.xxt, 1, x)
	for r := range picks {
		for t := 0; t < hi-lo; t++ {
			p.sum[r] += x.At(r, t)
		}
	}
	p.n += hi - lo
}

// ComputeRaw estimates the covariance of the data channels of raw with the
// global mean removed. Active and pending projectors are applied first.
func ComputeRaw(ctx context.Context, raw *meas.Raw, opts Options) (*Covariance, error) {
	picked, err := raw.PickData()
	if err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}
	if err := picked.ApplyProjection(); err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}
	names := picked.Info.ChannelNames()
	picks := make([]int, len(names))
	for k := range picks {
		picks[k] = k
	}

	n := raw.NTimes()
	step := max(1, int(segmentLength*raw.Info.SFreq))
	var bounds [][2]int
	for lo := 0; lo < n; lo += step {
		bounds = append(bounds, [2]int{lo, min(lo+step, n)})
	}

	parts, err := accumulate(ctx, len(picks), len(bounds), opts.workers(), func(p *partial, k int) {
		p.add(picked.Data, picks, bounds[k][0], bounds[k][1])
	})
	if err != nil {
		return nil, err
	}

	total := merge(len(picks), parts)
	if total.n < 2 {
		return nil, ErrTooFewSamples
	}
	return &Covariance{
		Kind:  fiff.CovNoise,
		Names: names,
		Data:  finish(total, total.n-1),
		NFree: total.n - 1,
		Projs: picked.Info.Projs,
		Bads:  picked.Info.Bads,
	}, nil
}

// ComputeEpochs pools the covariance of the [TMin, TMax] window of every epoch,
// removing each epoch's own mean. Epoch data are expected to be projected.
func ComputeEpochs(ctx context.Context, epochs *meas.Epochs, opts Options) (*Covariance, error) {
	if epochs.Len() == 0 {
		return nil, errors.New("covariance: no epochs")
	}
	times := epochs.Times()
	tmin, tmax := times[0], times[len(times)-1]
	if opts.TMin != nil {
		tmin = *opts.TMin
	}
	if opts.TMax != nil {
		tmax = *opts.TMax
	}
	if tmax < tmin {
		return nil, fmt.Errorf("covariance: window end (%g) precedes start (%g)", tmax, tmin)
	}
	idx := epochs.TimeAsIndex(tmin, tmax)
	lo, hi := idx[0], min(idx[1]+1, epochs.NTimes())
	if tmin < times[0] || tmax > times[len(times)-1]+0.5/epochs.Info.SFreq {
		return nil, fmt.Errorf("covariance: window [%g, %g] is outside the epochs [%g, %g]",
			tmin, tmax, times[0], times[len(times)-1])
	}
	if hi <= lo {
		return nil, ErrTooFewSamples
	}

	nchan := epochs.Info.NChan()
	picks := make([]int, nchan)
	for k := range picks {
		picks[k] = k
	}

	parts, err := accumulate(ctx, nchan, epochs.Len(), opts.workers(), func(p *partial, k int) {
		one := newPartial(nchan)
		one.add(epochs.Data[k], picks, lo, hi)
		// remove the epoch mean: sum(x x^T) - n m m^T
		m := mat.NewVecDense(nchan, one.sum)
		one.xxt.SymRankOne(one.xxt, -1/float64(one.n), m)
		p.xxt.AddSym(p.xxt, one.xxt)
		p.n += one.n
		p.free += one.n - 1
	})
	if err != nil {
		return nil, err
	}

	total := merge(nchan, parts)
	if total.free < 1 {
		return nil, ErrTooFewSamples
	}
	data := mat.NewSymDense(nchan, nil)
	data.ScaleSym(1/float64(total.free), total.xxt)
	return &Covariance{
		Kind:  fiff.CovNoise,
		Names: epochs.Info.ChannelNames(),
		Data:  data,
		NFree: total.free,
		Projs: epochs.Info.Clone().Projs,
		Bads:  slices.Clone(epochs.Info.Bads),
	}, nil
}

// accumulate runs fn over items 0..count-1 on up to workers goroutines, each
// owning one partial.
func accumulate(ctx context.Context, nchan, count, workers int, fn func(*partial, int)) ([]*partial, error) {
	workers = max(1, min(workers, count))
	parts := make([]*partial, workers)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		parts[w] = newPartial(nchan)
		g.Go(func() error {
			for k := w; k < count; k += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				fn(parts[w], k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func merge(nchan int, parts []*partial) *partial {
	total := newPartial(nchan)
	for _, p := range parts {
		total.xxt.AddSym(total.xxt, p.xxt)
		for k, v := range p.sum {
			total.sum[k] += v
		}
		total.n += p.n
		total.free += p.free
	}
	return total
}

// finish turns running sums into a covariance with the global mean removed.
func finish(p *partial, nfree int) *mat.SymDense {
	nchan := len(p.sum)
	m := mat.NewVecDense(nchan, p.sum)
	c := mat.NewSymDense(nchan, nil)
	c.CopySym(p.xxt)
	c.SymRankOne(c, -1/float64(p.n), m)
	c.ScaleSym(1/float64(nfree), c)
	return c
}

func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}

// Pick returns the covariance restricted to names, in that order.
func (c *Covariance) Pick(names []string) (*mat.SymDense, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		idx[k] = slices.Index(c.Names, name)
		if idx[k] < 0 {
			return nil, fmt.Errorf("channel %q is not in the covariance", name)
		}
	}
	out := mat.NewSymDense(len(names), nil)
	for i := range idx {
		for j := i; j < len(idx); j++ {
			out.SetSym(i, j, c.Data.At(idx[i], idx[j]))
		}
	}
	return out, nil
}
