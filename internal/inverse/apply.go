package inverse

import (
	"errors"
	"fmt"
	"math"

	"github.com/acpuchades/eegtools/internal/meas"
	"github.com/acpuchades/eegtools/internal/stc"
	"gonum.org/v1/gonum/mat"
)

// Method selects how the minimum-norm estimate is normalized.
type Method string

// Supported methods. DSPM is the default.
const (
	DSPM    Method = "dSPM"
	MNE     Method = "MNE"
	SLORETA Method = "sLORETA"
	ELORETA Method = "eLORETA"
)

// Methods lists the supported methods, default first.
var Methods = []Method{DSPM, MNE, SLORETA, ELORETA}

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown inverse method %q (want one of %v)", s, Methods)
}

// Lambda2 returns the regularization parameter 1/snr^2.
func Lambda2(snr float64) float64 { return 1 / (snr * snr) }

// Params controls application. Start and Stop select the sample window
// [Start, Stop) of the data; a zero Stop means the last sample.
type Params struct {
	Lambda2 float64
	Method  Method
	Start   int
	Stop    int
}

func (p Params) window(n int) (int, int, error) {
	stop := p.Stop
	if stop == 0 {
		stop = n
	}
	if p.Start < 0 || stop > n || stop <= p.Start {
		return 0, 0, fmt.Errorf("inverse: sample window [%d, %d) is empty or outside [0, %d)", p.Start, stop, n)
	}
	return p.Start, stop, nil
}

// kernel is an operator resolved for one lambda2, method and nave.
type kernel struct {
	k         *mat.Dense // gain columns x channels
	noiseNorm []float64  // one factor per source, nil when unnormalized
	nori      int
}

func (op *Operator) prepare(p Params, nave int) (*kernel, error) {
	if p.Lambda2 <= 0 {
		return nil, fmt.Errorf("inverse: lambda2 must be positive, got %g", p.Lambda2)
	}
	if nave < 1 {
		nave = 1
	}
	leads, fields, sing := op.EigenLeads, op.EigenFields, op.Sing
	switch p.Method {
	case DSPM, MNE, SLORETA:
	case ELORETA:
		var err error
		if leads, fields, sing, err = op.eloreta(p.Lambda2); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("inverse: unknown method %q", p.Method)
	}

	reginv := make([]float64, len(sing))
	for k, s := range sing {
		if s > 0 {
			reginv[k] = s / (s*s + p.Lambda2)
		}
	}

	// K = leads diag(reginv) fields^T W
	scaled := mat.DenseCopyOf(leads)
	rows, cols := scaled.Dims()
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			scaled.Set(i, k, scaled.At(i, k)*reginv[k])
		}
	}
	var ftw, k mat.Dense
	ftw.Mul(fields.T(), op.Whitener)
	k.Mul(scaled, &ftw)

	kn := &kernel{k: &k, nori: op.NumOrient()}
	if p.Method == DSPM || p.Method == SLORETA {
		weight := reginv
		if p.Method == SLORETA {
			weight = make([]float64, len(sing))
			for j, s := range sing {
				weight[j] = reginv[j] * math.Sqrt(1+s*s/p.Lambda2)
			}
		}
		kn.noiseNorm = noiseNorm(leads, weight, kn.nori, nave)
	}
	return kn, nil
}

// noiseNorm returns sqrt(nave) / ||leads_j diag(weight)|| for every source j,
// pooling the rows of free-orientation sources.
func noiseNorm(leads *mat.Dense, weight []float64, nori, nave int) []float64 {
	rows, cols := leads.Dims()
	out := make([]float64, rows/nori)
	for j := range out {
		var sum float64
		for o := 0; o < nori; o++ {
			for k := 0; k < cols; k++ {
				v := leads.At(j*nori+o, k) * weight[k]
				sum += v * v
			}
		}
		if sum > 0 {
			out[j] = math.Sqrt(float64(nave)) / math.Sqrt(sum)
		}
	}
	return out
}

// apply maps channel data (rows in op.ChannelNames order) to sources.
func (kn *kernel) apply(x mat.Matrix) *mat.Dense {
	var sol mat.Dense
	sol.Mul(kn.k, x)
	out := &sol
	if kn.nori > 1 {
		rows, cols := sol.Dims()
		out = mat.NewDense(rows/kn.nori, cols, nil)
		for j := 0; j < rows/kn.nori; j++ {
			for t := 0; t < cols; t++ {
				var ss float64
				for o := 0; o < kn.nori; o++ {
					v := sol.At(j*kn.nori+o, t)
					ss += v * v
				}
				out.Set(j, t, math.Sqrt(ss))
			}
		}
	}
	if kn.noiseNorm != nil {
		rows, cols := out.Dims()
		for j := 0; j < rows; j++ {
			for t := 0; t < cols; t++ {
				out.Set(j, t, out.At(j, t)*kn.noiseNorm[j])
			}
		}
	}
	return out
}

// pickRows returns the rows of data matching op.ChannelNames within [start, stop).
func (op *Operator) pickRows(info *meas.Info, data *mat.Dense, start, stop int) (*mat.Dense, error) {
	out := mat.NewDense(len(op.ChannelNames), stop-start, nil)
	for r, name := range op.ChannelNames {
		k := info.Index(name)
		if k < 0 {
			return nil, fmt.Errorf("inverse: channel %q is missing from the data", name)
		}
		out.SetRow(r, mat.Row(nil, k, data)[start:stop])
	}
	return out, nil
}

func (op *Operator) estimate(data *mat.Dense, tmin, tstep float64) *stc.SourceEstimate {
	return &stc.SourceEstimate{
		Vertices: op.Vertices(),
		Data:     data,
		TMin:     tmin,
		TStep:    tstep,
		Subject:  op.Subject,
		Volume:   op.IsVolume(),
	}
}

// Apply computes the source estimate of an evoked response.
func Apply(evoked *meas.Evoked, op *Operator, p Params) (*stc.SourceEstimate, error) {
	start, stop, err := p.window(evoked.NTimes())
	if err != nil {
		return nil, err
	}
	kn, err := op.prepare(p, evoked.NAve)
	if err != nil {
		return nil, err
	}
	x, err := op.pickRows(evoked.Info, evoked.Data, start, stop)
	if err != nil {
		return nil, err
	}
	sfreq := evoked.Info.SFreq
	return op.estimate(kn.apply(x), evoked.TMin+float64(start)/sfreq, 1/sfreq), nil
}

// ApplyEpochs computes one source estimate per epoch.
func ApplyEpochs(epochs *meas.Epochs, op *Operator, p Params) ([]*stc.SourceEstimate, error) {
	if epochs.Len() == 0 {
		return nil, errors.New("inverse: no epochs")
	}
	start, stop, err := p.window(epochs.NTimes())
	if err != nil {
		return nil, err
	}
	kn, err := op.prepare(p, 1)
	if err != nil {
		return nil, err
	}
	sfreq := epochs.Info.SFreq
	out := make([]*stc.SourceEstimate, 0, epochs.Len())
	for _, seg := range epochs.Data {
		x, err := op.pickRows(epochs.Info, seg, start, stop)
		if err != nil {
			return nil, err
		}
		out = append(out, op.estimate(kn.apply(x), epochs.TMin+float64(start)/sfreq, 1/sfreq))
	}
	return out, nil
}

// ApplyRaw computes the source estimate of a continuous recording. Times are
// measured from the start of the acquisition, so they include the first sample.
func ApplyRaw(raw *meas.Raw, op *Operator, p Params) (*stc.SourceEstimate, error) {
	start, stop, err := p.window(raw.NTimes())
	if err != nil {
		return nil, err
	}
	kn, err := op.prepare(p, 1)
	if err != nil {
		return nil, err
	}
	x, err := op.pickRows(raw.Info, raw.Data, start, stop)
	if err != nil {
		return nil, err
	}
	sfreq := raw.Info.SFreq
	return op.estimate(kn.apply(x), float64(raw.FirstSample+start)/sfreq, 1/sfreq), nil
}
