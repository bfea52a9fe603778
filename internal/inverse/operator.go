// Package inverse builds minimum-norm inverse operators from a forward model
// and a noise covariance, and applies them to sensor data.
//
// The operator keeps the singular value decomposition of the whitened,
// depth-weighted gain matrix
//
//	A = W G R^(1/2) = U S V^T
//
// so that the regularized kernel for any lambda2 is
//
//	K = R^(1/2) V diag(s / (s^2 + lambda2)) U^T W
package inverse

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/acpuchades/eegtools/internal/covariance"
	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/forward"
	"github.com/acpuchades/eegtools/internal/meas"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNoChannels is returned when the recording, forward model and covariance
// share no usable channel.
var ErrNoChannels = errors.New("no channels shared by data, forward model and noise covariance")

// eigTol is the relative eigenvalue below which noise components are dropped.
const eigTol = 1e-10

// Options controls operator construction.
type Options struct {
	// Depth is the depth-weighting exponent; zero disables weighting.
	Depth float64
	// DepthLimit caps the ratio between the largest and smallest depth weight
	// at DepthLimit^2.
	DepthLimit float64
}

// DefaultOptions returns depth weighting with exponent 0.8 and limit 10.
func DefaultOptions() Options { return Options{Depth: 0.8, DepthLimit: 10} }

// Operator is a prepared minimum-norm inverse operator.
type Operator struct {
	ChannelNames []string
	Whitener     *mat.Dense // rank x channels, projection folded in
	NoiseCov     *covariance.Covariance
	Projs        []meas.Projector
	SourceCov    []float64  // one prior variance per gain column
	EigenLeads   *mat.Dense // gain columns x components, R^(1/2) V
	EigenFields  *mat.Dense // rank x components, U
	Sing         []float64
	SourceOri    int32
	CoordFrame   int32
	Src          []forward.SourceSpace
	Subject      string
	Depth        float64
	NAve         int
}

// Rank returns the number of whitened noise components.
func (op *Operator) Rank() int {
	r, _ := op.Whitener.Dims()
	return r
}

// NumOrient returns the number of gain columns per source.
func (op *Operator) NumOrient() int {
	if op.SourceOri == fiff.SourceOriFree {
		return 3
	}
	return 1
}

// NumSources returns the number of source locations.
func (op *Operator) NumSources() int { return len(op.SourceCov) / op.NumOrient() }

// Vertices returns the in-use vertices of each source space.
func (op *Operator) Vertices() [][]int {
	out := make([][]int, len(op.Src))
	for k := range op.Src {
		out[k] = slices.Clone(op.Src[k].Vertno)
	}
	return out
}

// IsVolume reports whether sources live in a volume source space.
func (op *Operator) IsVolume() bool {
	return len(op.Src) > 0 && op.Src[0].Kind == fiff.SourceSpaceVolume
}

// SelectChannels returns, in forward-model order, the channels that are data
// channels in info, not marked bad in info or cov, and present in cov.
func SelectChannels(info *meas.Info, fwd *forward.Forward, cov *covariance.Covariance) []string {
	var names []string
	for _, name := range fwd.ChannelNames {
		k := info.Index(name)
		if k < 0 || !info.Channels[k].IsData() || info.IsBad(name) {
			continue
		}
		if !slices.Contains(cov.Names, name) || slices.Contains(cov.Bads, name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Make assembles an inverse operator for the channels info, fwd and cov share.
func Make(info *meas.Info, fwd *forward.Forward, cov *covariance.Covariance, opts Options) (*Operator, error) {
	if cov == nil {
		return nil, errors.New("inverse: a noise covariance is required")
	}
	if err := fwd.Validate(); err != nil {
		return nil, err
	}
	names := SelectChannels(info, fwd, cov)
	if len(names) == 0 {
		return nil, ErrNoChannels
	}

	sub, err := fwd.Pick(names)
	if err != nil {
		return nil, err
	}
	noise, err := cov.Pick(names)
	if err != nil {
		return nil, err
	}
	proj, nproj, err := info.ProjectionMatrix(names)
	if err != nil {
		return nil, fmt.Errorf("inverse: %w", err)
	}

	whitener, err := computeWhitener(noise, proj, len(names)-nproj)
	if err != nil {
		return nil, err
	}
	var wg mat.Dense
	wg.Mul(whitener, sub.Gain)

	nori := sub.NumOrient()
	r := depthPrior(&wg, nori, opts)
	a := weightColumns(&wg, r)
	rank, _ := whitener.Dims()

	// scale R so that trace(A A^T) equals the rank
	trace := mat.Norm(a, 2)
	trace *= trace
	if trace == 0 {
		return nil, errors.New("inverse: gain matrix is zero on the selected channels")
	}
	scale := float64(rank) / trace
	for k := range r {
		r[k] *= scale
	}
	a.Scale(math.Sqrt(scale), a)

	leads, fields, sing, err := decompose(a, r)
	if err != nil {
		return nil, err
	}

	picked := &covariance.Covariance{
		Kind:  cov.Kind,
		Names: slices.Clone(names),
		Data:  noise,
		NFree: cov.NFree,
		Projs: cov.Projs,
		Bads:  cov.Bads,
	}
	return &Operator{
		ChannelNames: names,
		Whitener:     whitener,
		NoiseCov:     picked,
		Projs:        info.Clone().Projs,
		SourceCov:    r,
		EigenLeads:   leads,
		EigenFields:  fields,
		Sing:         sing,
		SourceOri:    sub.SourceOri,
		CoordFrame:   sub.CoordFrame,
		Src:          sub.Src,
		Subject:      fwd.Subject,
		Depth:        opts.Depth,
		NAve:         1,
	}, nil
}

// computeWhitener returns W P where W maps the projected covariance P C P^T to
// the identity on its leading maxRank eigen-directions.
func computeWhitener(c *mat.SymDense, proj *mat.Dense, maxRank int) (*mat.Dense, error) {
	n := c.SymmetricDim()
	var tmp, full mat.Dense
	tmp.Mul(proj, c)
	full.Mul(&tmp, proj.T())
	projected := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			projected.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(projected, true) {
		return nil, errors.New("inverse: noise covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, n)
	for k := range order {
		order[k] = k
	}
	sort.Slice(order, func(i, j int) bool { return vals[order[i]] > vals[order[j]] })
	if vals[order[0]] <= 0 {
		return nil, errors.New("inverse: noise covariance is not positive")
	}

	rank := 0
	for _, k := range order[:min(maxRank, n)] {
		if vals[k] <= vals[order[0]]*eigTol {
			break
		}
		rank++
	}
	if rank == 0 {
		return nil, errors.New("inverse: noise covariance has rank zero after projection")
	}

	w := mat.NewDense(rank, n, nil)
	for r := 0; r < rank; r++ {
		k := order[r]
		inv := 1 / math.Sqrt(vals[k])
		for c := 0; c < n; c++ {
			w.Set(r, c, vecs.At(c, k)*inv)
		}
	}
	var wp mat.Dense
	wp.Mul(w, proj)
	return &wp, nil
}

// depthPrior returns the prior variance of every gain column. Each source is
// weighted by (min(1/d, limit) / limit)^depth where d is the largest squared
// singular value of its whitened gain block and limit is DepthLimit^2 times the
// smallest 1/d.
func depthPrior(g *mat.Dense, nori int, opts Options) []float64 {
	_, cols := g.Dims()
	r := make([]float64, cols)
	if opts.Depth <= 0 {
		for k := range r {
			r[k] = 1
		}
		return r
	}

	nsrc := cols / nori
	w := make([]float64, nsrc)
	minW := math.Inf(1)
	for j := 0; j < nsrc; j++ {
		d := blockPower(g, j*nori, nori)
		if d <= 0 {
			w[j] = math.Inf(1)
			continue
		}
		w[j] = 1 / d
		minW = math.Min(minW, w[j])
	}
	limit := math.Inf(1)
	if opts.DepthLimit > 0 && !math.IsInf(minW, 1) {
		limit = minW * opts.DepthLimit * opts.DepthLimit
	}
	for j := 0; j < nsrc; j++ {
		v := 1.0
		if !math.IsInf(limit, 1) {
			v = math.Min(w[j], limit) / limit
		}
		v = math.Pow(v, opts.Depth)
		for o := 0; o < nori; o++ {
			r[j*nori+o] = v
		}
	}
	return r
}

// blockPower returns the largest eigenvalue of B^T B for the n columns of g
// starting at col.
func blockPower(g *mat.Dense, col, n int) float64 {
	rows, _ := g.Dims()
	b := g.Slice(0, rows, col, col+n)
	if n == 1 {
		v := mat.Norm(b, 2)
		return v * v
	}
	var btb mat.SymDense
	btb.SymOuterK(1, b.T())
	var eig mat.EigenSym
	if !eig.Factorize(&btb, false) {
		return 0
	}
	return floats.Max(eig.Values(nil))
}

// weightColumns returns g with column k scaled by sqrt(r[k]).
func weightColumns(g *mat.Dense, r []float64) *mat.Dense {
	rows, cols := g.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			out.Set(i, k, g.At(i, k)*math.Sqrt(r[k]))
		}
	}
	return out
}

// decompose factors a = U S V^T and returns R^(1/2) V, U and S.
func decompose(a *mat.Dense, r []float64) (*mat.Dense, *mat.Dense, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, nil, nil, errors.New("inverse: SVD of the whitened gain failed")
	}
	sing := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rows, cols := v.Dims()
	for i := 0; i < rows; i++ {
		s := math.Sqrt(r[i])
		for k := 0; k < cols; k++ {
			v.Set(i, k, v.At(i, k)*s)
		}
	}
	return &v, &u, sing, nil
}
