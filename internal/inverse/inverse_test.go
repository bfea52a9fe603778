package inverse

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/acpuchades/eegtools/internal/covariance"
	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/forward"
	"github.com/acpuchades/eegtools/internal/meas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const nchan = 5

func channelNames() []string {
	names := make([]string, nchan)
	for k := range names {
		names[k] = fmt.Sprintf("EEG %03d", k+1)
	}
	return names
}

func newTestInfo() *meas.Info {
	info := &meas.Info{SFreq: 100}
	for _, name := range channelNames() {
		info.Channels = append(info.Channels, meas.Channel{Name: name, Kind: fiff.ChEEG, Cal: 1})
	}
	return info
}

func newSourceSpace(id int32, npts int, used []int) forward.SourceSpace {
	pts := mat.NewDense(npts, 3, nil)
	for k := 0; k < npts; k++ {
		pts.SetRow(k, []float64{float64(k) * 0.01, float64(id-100) * 0.02, 0.05})
	}
	return forward.SourceSpace{Kind: fiff.SourceSpaceSurface, ID: id, Points: pts, Vertno: used}
}

func newTestForward(ori int32) *forward.Forward {
	f := &forward.Forward{
		ChannelNames: channelNames(),
		SourceOri:    ori,
		CoordFrame:   fiff.CoordHead,
		Subject:      "sample",
		Src: []forward.SourceSpace{
			newSourceSpace(fiff.HemiLeft, 6, []int{0, 2, 3, 5}),
			newSourceSpace(fiff.HemiRight, 5, []int{1, 2, 4}),
		},
	}
	cols := f.NumSources() * f.NumOrient()
	gain := mat.NewDense(nchan, cols, nil)
	for r := 0; r < nchan; r++ {
		for c := 0; c < cols; c++ {
			// deeper sources (higher c) get weaker fields
			gain.Set(r, c, 1e-8*math.Sin(float64((r+1)*(c+2)))/float64(1+c%4))
		}
	}
	f.Gain = gain
	return f
}

func newTestCov() *covariance.Covariance {
	c := mat.NewSymDense(nchan, nil)
	for i := 0; i < nchan; i++ {
		for j := i; j < nchan; j++ {
			v := 1e-13 * math.Exp(-float64(j-i))
			if i == j {
				v = 1e-12 * (1 + 0.2*float64(i))
			}
			c.SetSym(i, j, v)
		}
	}
	return &covariance.Covariance{Kind: fiff.CovNoise, Names: channelNames(), Data: c, NFree: 100}
}

func newTestOperator(t *testing.T, ori int32) (*Operator, *forward.Forward) {
	t.Helper()
	fwd := newTestForward(ori)
	op, err := Make(newTestInfo(), fwd, newTestCov(), DefaultOptions())
	require.NoError(t, err)
	return op, fwd
}

func newTestData(ntimes int) *mat.Dense {
	d := mat.NewDense(nchan, ntimes, nil)
	for r := 0; r < nchan; r++ {
		for c := 0; c < ntimes; c++ {
			d.Set(r, c, 1e-6*math.Cos(0.3*float64(c)+float64(r)))
		}
	}
	return d
}

func assertClose(t *testing.T, want, got mat.Matrix, rel float64) {
	t.Helper()
	scale := mat.Norm(want, math.Inf(1))
	assert.Truef(t, mat.EqualApprox(want, got, rel*scale), "matrices differ:\nwant %v\ngot  %v",
		mat.Formatted(want, mat.Squeeze()), mat.Formatted(got, mat.Squeeze()))
}

func TestWhitenerIdentity(t *testing.T) {
	info := newTestInfo()
	require.NoError(t, info.AddAverageReferenceProjector())
	cov := newTestCov()

	tests := []struct {
		name     string
		info     *meas.Info
		wantRank int
	}{
		{"no projection", newTestInfo(), nchan},
		{"average reference", info, nchan - 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			op, err := Make(tc.info, newTestForward(fiff.SourceOriFixed), cov, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tc.wantRank, op.Rank())

			var tmp, wcw mat.Dense
			tmp.Mul(op.Whitener, cov.Data)
			wcw.Mul(&tmp, op.Whitener.T())
			eye := mat.NewDiagDense(tc.wantRank, nil)
			for k := 0; k < tc.wantRank; k++ {
				eye.SetDiag(k, 1)
			}
			assertClose(t, eye, &wcw, 1e-9)
		})
	}
}

func TestMakeShape(t *testing.T) {
	op, _ := newTestOperator(t, fiff.SourceOriFixed)
	assert.Equal(t, channelNames(), op.ChannelNames)
	assert.Equal(t, 7, op.NumSources())
	assert.Equal(t, 1, op.NumOrient())
	assert.Equal(t, [][]int{{0, 2, 3, 5}, {1, 2, 4}}, op.Vertices())
	assert.False(t, op.IsVolume())
	assert.Equal(t, "sample", op.Subject)
	assert.Len(t, op.Sing, nchan)

	// trace(A A^T) equals the rank after scaling
	var ss float64
	for _, s := range op.Sing {
		ss += s * s
	}
	assert.InDelta(t, float64(op.Rank()), ss, 1e-9)

	free, _ := newTestOperator(t, fiff.SourceOriFree)
	assert.Equal(t, 3, free.NumOrient())
	assert.Equal(t, 7, free.NumSources())
	assert.Len(t, free.SourceCov, 21)
}

func TestDepthPrior(t *testing.T) {
	fwd := newTestForward(fiff.SourceOriFixed)
	flat, err := Make(newTestInfo(), fwd, newTestCov(), Options{})
	require.NoError(t, err)
	for _, v := range flat.SourceCov[1:] {
		assert.InDelta(t, flat.SourceCov[0], v, 1e-12)
	}

	weighted, err := Make(newTestInfo(), fwd, newTestCov(), DefaultOptions())
	require.NoError(t, err)
	var varied bool
	for _, v := range weighted.SourceCov[1:] {
		if math.Abs(v-weighted.SourceCov[0]) > 1e-9*weighted.SourceCov[0] {
			varied = true
		}
	}
	assert.True(t, varied, "depth weighting should produce unequal priors")

	// weaker gain columns get larger prior variance
	assert.Greater(t, weighted.SourceCov[3], weighted.SourceCov[0])
}

func TestMNEKernel(t *testing.T) {
	op, fwd := newTestOperator(t, fiff.SourceOriFixed)
	lambda2 := Lambda2(3)
	kn, err := op.prepare(Params{Lambda2: lambda2, Method: MNE}, 1)
	require.NoError(t, err)
	assert.Nil(t, kn.noiseNorm)

	// K = R G'^T (G' R G'^T + lambda2 I)^-1 W with G' = W G
	var wg mat.Dense
	wg.Mul(op.Whitener, fwd.Gain)
	rank, cols := wg.Dims()
	rgt := mat.NewDense(cols, rank, nil)
	for c := 0; c < cols; c++ {
		for r := 0; r < rank; r++ {
			rgt.Set(c, r, op.SourceCov[c]*wg.At(r, c))
		}
	}
	var gram mat.Dense
	gram.Mul(&wg, rgt)
	for k := 0; k < rank; k++ {
		gram.Set(k, k, gram.At(k, k)+lambda2)
	}
	var inv mat.Dense
	require.NoError(t, inv.Inverse(&gram))
	var tmp, want mat.Dense
	tmp.Mul(rgt, &inv)
	want.Mul(&tmp, op.Whitener)

	assertClose(t, &want, kn.k, 1e-8)
}

func TestNoiseNormalization(t *testing.T) {
	op, _ := newTestOperator(t, fiff.SourceOriFixed)
	for _, m := range []Method{DSPM, SLORETA} {
		t.Run(string(m), func(t *testing.T) {
			one, err := op.prepare(Params{Lambda2: Lambda2(3), Method: m}, 1)
			require.NoError(t, err)
			four, err := op.prepare(Params{Lambda2: Lambda2(3), Method: m}, 4)
			require.NoError(t, err)
			require.Len(t, one.noiseNorm, op.NumSources())
			for j := range one.noiseNorm {
				assert.Greater(t, one.noiseNorm[j], 0.0)
				assert.InDelta(t, 2*one.noiseNorm[j], four.noiseNorm[j], 1e-9*four.noiseNorm[j])
			}
		})
	}
}

func TestELORETA(t *testing.T) {
	for _, ori := range []int32{fiff.SourceOriFixed, fiff.SourceOriFree} {
		t.Run(fmt.Sprint(ori), func(t *testing.T) {
			op, _ := newTestOperator(t, ori)

			// the stored decomposition reproduces the whitened gain
			fwd := newTestForward(ori)
			var wg mat.Dense
			wg.Mul(op.Whitener, fwd.Gain)
			assertClose(t, &wg, op.whitenedGain(), 1e-8)

			kn, err := op.prepare(Params{Lambda2: Lambda2(3), Method: ELORETA}, 1)
			require.NoError(t, err)
			rows, cols := kn.k.Dims()
			assert.Equal(t, op.NumSources()*op.NumOrient(), rows)
			assert.Equal(t, nchan, cols)
			for _, v := range kn.k.RawMatrix().Data {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		})
	}
}

func TestApplyEvoked(t *testing.T) {
	op, _ := newTestOperator(t, fiff.SourceOriFree)
	ev := &meas.Evoked{Info: newTestInfo(), Data: newTestData(30), TMin: -0.1, NAve: 10}

	est, err := Apply(ev, op, Params{Lambda2: Lambda2(3), Method: DSPM, Start: 5, Stop: 25})
	require.NoError(t, err)
	assert.Equal(t, op.NumSources(), est.NumSources())
	assert.Equal(t, 20, est.NTimes())
	assert.InDelta(t, -0.05, est.TMin, 1e-12)
	assert.InDelta(t, 0.01, est.TStep, 1e-12)
	assert.Equal(t, "sample", est.Subject)
	for _, v := range est.Data.RawMatrix().Data {
		assert.GreaterOrEqual(t, v, 0.0, "free orientations combine to a norm")
	}
}

func TestApplyRawAndEpochs(t *testing.T) {
	op, _ := newTestOperator(t, fiff.SourceOriFixed)
	p := Params{Lambda2: Lambda2(1), Method: SLORETA}

	raw := &meas.Raw{Info: newTestInfo(), Data: newTestData(40), FirstSample: 100}
	est, err := ApplyRaw(raw, op, Params{Lambda2: p.Lambda2, Method: p.Method, Start: 10})
	require.NoError(t, err)
	assert.Equal(t, 30, est.NTimes())
	assert.InDelta(t, 1.1, est.TMin, 1e-12)

	epochs := &meas.Epochs{
		Info: newTestInfo(),
		Data: []*mat.Dense{newTestData(12), newTestData(12), newTestData(12)},
		TMin: -0.02,
	}
	ests, err := ApplyEpochs(epochs, op, p)
	require.NoError(t, err)
	require.Len(t, ests, 3)
	for _, e := range ests {
		assert.Equal(t, 12, e.NTimes())
		assert.InDelta(t, -0.02, e.TMin, 1e-12)
	}

	_, err = ApplyEpochs(&meas.Epochs{Info: newTestInfo()}, op, p)
	assert.Error(t, err)
}

func TestApplyErrors(t *testing.T) {
	op, _ := newTestOperator(t, fiff.SourceOriFixed)
	ev := &meas.Evoked{Info: newTestInfo(), Data: newTestData(10), NAve: 1}

	tests := []struct {
		name string
		p    Params
	}{
		{"negative start", Params{Lambda2: 1, Method: MNE, Start: -1}},
		{"stop past end", Params{Lambda2: 1, Method: MNE, Stop: 11}},
		{"empty window", Params{Lambda2: 1, Method: MNE, Start: 4, Stop: 4}},
		{"reversed window", Params{Lambda2: 1, Method: MNE, Start: 6, Stop: 3}},
		{"zero lambda2", Params{Method: MNE}},
		{"unknown method", Params{Lambda2: 1, Method: "LCMV"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(ev, op, tc.p)
			assert.Error(t, err)
		})
	}

	missing := &meas.Evoked{Info: &meas.Info{SFreq: 100}, Data: newTestData(10), NAve: 1}
	_, err := Apply(missing, op, Params{Lambda2: 1, Method: MNE})
	assert.ErrorContains(t, err, "missing from the data")
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMethod("dspm")
	assert.Error(t, err)
	assert.Equal(t, DSPM, Methods[0])
	assert.InDelta(t, 1.0/9, Lambda2(3), 1e-15)
}

func TestNoSharedChannels(t *testing.T) {
	cov := newTestCov()
	cov.Names = []string{"MEG 0111", "MEG 0112", "MEG 0113", "MEG 0121", "MEG 0122"}
	_, err := Make(newTestInfo(), newTestForward(fiff.SourceOriFixed), cov, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoChannels)

	info := newTestInfo()
	info.Bads = channelNames()
	_, err = Make(info, newTestForward(fiff.SourceOriFixed), newTestCov(), DefaultOptions())
	assert.ErrorIs(t, err, ErrNoChannels)

	_, err = Make(newTestInfo(), newTestForward(fiff.SourceOriFixed), nil, DefaultOptions())
	assert.Error(t, err)
}

func TestSelectChannels(t *testing.T) {
	info := newTestInfo()
	info.Bads = []string{"EEG 002"}
	info.Channels = append(info.Channels, meas.Channel{Name: "STI 014", Kind: fiff.ChStim})
	cov := newTestCov()
	cov.Bads = []string{"EEG 004"}
	fwd := newTestForward(fiff.SourceOriFixed)

	got := SelectChannels(info, fwd, cov)
	assert.Equal(t, []string{"EEG 001", "EEG 003", "EEG 005"}, got)
}

func TestSaveRead(t *testing.T) {
	for _, name := range []string{"op-inv.fif", "op-inv.fif.gz"} {
		t.Run(name, func(t *testing.T) {
			info := newTestInfo()
			require.NoError(t, info.AddAverageReferenceProjector())
			op, err := Make(info, newTestForward(fiff.SourceOriFree), newTestCov(), DefaultOptions())
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, op.Save(path))
			got, err := Read(path)
			require.NoError(t, err)

			assert.Equal(t, op.ChannelNames, got.ChannelNames)
			assert.Equal(t, op.SourceOri, got.SourceOri)
			assert.Equal(t, op.CoordFrame, got.CoordFrame)
			assert.Equal(t, op.Subject, got.Subject)
			assert.Equal(t, op.NAve, got.NAve)
			assert.InDelta(t, op.Depth, got.Depth, 0)
			assert.Equal(t, op.Sing, got.Sing)
			assert.Equal(t, op.SourceCov, got.SourceCov)
			assert.True(t, mat.Equal(op.Whitener, got.Whitener))
			assert.True(t, mat.Equal(op.EigenLeads, got.EigenLeads))
			assert.True(t, mat.Equal(op.EigenFields, got.EigenFields))
			assert.Equal(t, op.Vertices(), got.Vertices())
			require.Len(t, got.Projs, 1)
			assert.Equal(t, fiff.ProjAverageEEGRef, got.Projs[0].Kind)
			require.NotNil(t, got.NoiseCov)
			assert.Equal(t, op.NoiseCov.Names, got.NoiseCov.Names)
			assert.True(t, mat.EqualApprox(op.NoiseCov.Data, got.NoiseCov.Data, 1e-24))

			// a reloaded operator gives the same estimate
			ev := &meas.Evoked{Info: info, Data: newTestData(8), NAve: 1}
			p := Params{Lambda2: Lambda2(3), Method: DSPM}
			want, err := Apply(ev, op, p)
			require.NoError(t, err)
			have, err := Apply(ev, got, p)
			require.NoError(t, err)
			assert.True(t, mat.Equal(want.Data, have.Data))
		})
	}
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing-inv.fif"))
	assert.Error(t, err)

	fwd := newTestForward(fiff.SourceOriFixed)
	path := filepath.Join(dir, "fwd.fif")
	require.NoError(t, fwd.Save(path))
	_, err = Read(path)
	assert.ErrorIs(t, err, fiff.ErrTagNotFound)
}
