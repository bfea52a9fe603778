package inverse

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	eloretaMaxIter = 20
	eloretaEps     = 1e-6
)

// whitenedGain rebuilds W G from the stored decomposition:
// W G = U S (R^-1 R^(1/2) V)^T.
func (op *Operator) whitenedGain() *mat.Dense {
	lv := mat.DenseCopyOf(op.EigenLeads)
	rows, cols := lv.Dims()
	for i := 0; i < rows; i++ {
		inv := 0.0
		if op.SourceCov[i] > 0 {
			inv = 1 / op.SourceCov[i]
		}
		for k := 0; k < cols; k++ {
			lv.Set(i, k, lv.At(i, k)*inv)
		}
	}
	us := mat.DenseCopyOf(op.EigenFields)
	urows, _ := us.Dims()
	for i := 0; i < urows; i++ {
		for k := 0; k < cols; k++ {
			us.Set(i, k, us.At(i, k)*op.Sing[k])
		}
	}
	var g mat.Dense
	g.Mul(us, lv.T())
	return &g
}

// eloreta computes exact-LORETA source weights for lambda2 and returns the
// decomposition of the reweighted gain. Orientations of a source share one
// weight.
func (op *Operator) eloreta(lambda2 float64) (*mat.Dense, *mat.Dense, []float64, error) {
	g := op.whitenedGain()
	rank, cols := g.Dims()
	nori := op.NumOrient()

	r := make([]float64, cols)
	for k := range r {
		r[k] = 1
	}
	prev := make([]float64, cols)
	for it := 0; it < eloretaMaxIter; it++ {
		if err := normalizeWeights(g, r, rank); err != nil {
			return nil, nil, nil, err
		}
		m, err := regularizedInverse(g, r, lambda2)
		if err != nil {
			return nil, nil, nil, err
		}
		var mg mat.Dense
		mg.Mul(m, g)

		copy(prev, r)
		for j := 0; j < cols/nori; j++ {
			var tr float64
			for o := 0; o < nori; o++ {
				c := j*nori + o
				for i := 0; i < rank; i++ {
					tr += g.At(i, c) * mg.At(i, c)
				}
			}
			w := 0.0
			if tr > 0 {
				w = 1 / math.Sqrt(tr/float64(nori))
			}
			for o := 0; o < nori; o++ {
				r[j*nori+o] = w
			}
		}

		norm := floats.Norm(prev, 2)
		if norm == 0 {
			break
		}
		if floats.Distance(r, prev, 2)/norm < eloretaEps {
			break
		}
	}
	if err := normalizeWeights(g, r, rank); err != nil {
		return nil, nil, nil, err
	}
	return decompose(weightColumns(g, r), r)
}

// normalizeWeights scales r so that trace(G diag(r) G^T) equals rank.
func normalizeWeights(g *mat.Dense, r []float64, rank int) error {
	rows, cols := g.Dims()
	var trace float64
	for k := 0; k < cols; k++ {
		var ss float64
		for i := 0; i < rows; i++ {
			v := g.At(i, k)
			ss += v * v
		}
		trace += r[k] * ss
	}
	if trace <= 0 {
		return errors.New("inverse: eLORETA weights collapsed to zero")
	}
	floats.Scale(float64(rank)/trace, r)
	return nil
}

// regularizedInverse returns (G diag(r) G^T + lambda2 I)^-1.
func regularizedInverse(g *mat.Dense, r []float64, lambda2 float64) (*mat.SymDense, error) {
	gr := weightColumns(g, r)
	rows, _ := g.Dims()
	var gram mat.SymDense
	gram.SymOuterK(1, gr)
	for i := 0; i < rows; i++ {
		gram.SetSym(i, i, gram.At(i, i)+lambda2)
	}
	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return nil, errors.New("inverse: eLORETA system is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
