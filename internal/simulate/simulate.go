// Package simulate generates synthetic EEG datasets for tests and demos: a
// spherical electrode montage, a two-hemisphere source space with an analytic
// forward model, and a recording of evoked dipole activity plus sensor noise.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/acpuchades/eegtools/internal/fiff"
	"github.com/acpuchades/eegtools/internal/forward"
	"github.com/acpuchades/eegtools/internal/meas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// StimChannel is the trigger channel name.
const StimChannel = "STI 014"

const (
	headRadius   = 0.09 // metres, electrode sphere
	sourceRadius = 0.06 // metres, cortex shell
	conductivity = 0.33 // S/m
)

// Config describes a synthetic dataset. Zero fields take the defaults of
// DefaultConfig.
type Config struct {
	Channels       int     // EEG electrodes
	SourcesPerHemi int     // in-use sources per hemisphere
	SFreq          float64 // Hz
	Duration       float64 // seconds
	EventInterval  float64 // seconds between events
	FirstEvent     float64 // seconds
	Amplitude      float64 // dipole moment, A*m
	Noise          float64 // sensor noise standard deviation, V
	FreeOrient     bool
	Seed           uint64
	Subject        string
}

// DefaultConfig returns a small dataset that runs quickly in tests.
func DefaultConfig() Config {
	return Config{
		Channels:       16,
		SourcesPerHemi: 12,
		SFreq:          200,
		Duration:       8,
		EventInterval:  1,
		FirstEvent:     1,
		Amplitude:      20e-9,
		Noise:          0.5e-6,
		Seed:           1,
		Subject:        "sample",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.SourcesPerHemi == 0 {
		c.SourcesPerHemi = d.SourcesPerHemi
	}
	if c.SFreq == 0 {
		c.SFreq = d.SFreq
	}
	if c.Duration == 0 {
		c.Duration = d.Duration
	}
	if c.EventInterval == 0 {
		c.EventInterval = d.EventInterval
	}
	if c.FirstEvent == 0 {
		c.FirstEvent = d.FirstEvent
	}
	if c.Amplitude == 0 {
		c.Amplitude = d.Amplitude
	}
	if c.Noise == 0 {
		c.Noise = d.Noise
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Channels < 3:
		return fmt.Errorf("simulate: need at least 3 channels, got %d", c.Channels)
	case c.SourcesPerHemi < 1:
		return errors.New("simulate: need at least one source per hemisphere")
	case c.Noise < 0 || c.Amplitude < 0:
		return errors.New("simulate: noise and amplitude must be non-negative")
	case c.FirstEvent+0.5 > c.Duration:
		return fmt.Errorf("simulate: %gs recording is too short for an event at %gs", c.Duration, c.FirstEvent)
	}
	return nil
}

// Dataset is a generated recording with its forward model.
type Dataset struct {
	Raw     *meas.Raw
	Noise   *meas.Raw // sensor noise only, same montage
	Forward *forward.Forward
	Events  []meas.Event
	// Active lists the source index driven by each event code (code k drives
	// Active[k-1]).
	Active []int
}

// Generate builds a dataset from cfg.
func Generate(cfg Config) (*Dataset, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	noise := distuv.Normal{Mu: 0, Sigma: cfg.Noise, Src: src}

	info := montage(cfg)
	fwd := sphereForward(info, cfg)
	nsrc := fwd.NumSources()
	active := []int{nsrc / 4, nsrc/2 + nsrc/4}

	nchan := info.NChan()
	neeg := nchan - 1
	n := int(math.Round(cfg.Duration * cfg.SFreq))
	moments := mat.NewDense(fwd.NumSources()*fwd.NumOrient(), n, nil)

	var events []meas.Event
	pulse := max(1, int(0.01*cfg.SFreq))
	data := mat.NewDense(nchan, n, nil)
	for t, k := cfg.FirstEvent, 0; t+0.5 <= cfg.Duration; t, k = t+cfg.EventInterval, k+1 {
		s := int(math.Round(t * cfg.SFreq))
		code := k%len(active) + 1
		events = append(events, meas.Event{Sample: s, Code: code})
		for p := s; p < s+pulse && p < n; p++ {
			data.Set(neeg, p, float64(code))
		}
		col := active[code-1] * fwd.NumOrient()
		for p := s; p < n && p < s+int(0.4*cfg.SFreq); p++ {
			dt := float64(p-s) / cfg.SFreq
			v := cfg.Amplitude * math.Sin(2*math.Pi*10*dt) * math.Exp(-dt/0.1)
			moments.Set(col, p, moments.At(col, p)+v)
		}
	}

	var signal mat.Dense
	signal.Mul(fwd.Gain, moments)
	for c := 0; c < neeg; c++ {
		for s := 0; s < n; s++ {
			data.Set(c, s, signal.At(c, s)+noise.Rand())
		}
	}

	var annots []meas.Annotation
	for _, ev := range events {
		annots = append(annots, meas.Annotation{
			Onset:       float64(ev.Sample) / cfg.SFreq,
			Description: fmt.Sprintf("stim/%d", ev.Code),
		})
	}
	raw := &meas.Raw{Info: info, Data: data, Annotations: annots}

	noiseData := mat.NewDense(nchan, n/2, nil)
	for c := 0; c < neeg; c++ {
		for s := 0; s < n/2; s++ {
			noiseData.Set(c, s, noise.Rand())
		}
	}
	noiseRaw := &meas.Raw{Info: info.Clone(), Data: noiseData}

	return &Dataset{Raw: raw, Noise: noiseRaw, Forward: fwd, Events: events, Active: active}, nil
}

// montage places EEG electrodes on the upper half of a sphere, followed by a
// stimulus channel.
func montage(cfg Config) *meas.Info {
	info := &meas.Info{SFreq: cfg.SFreq, Description: "synthetic"}
	golden := math.Pi * (3 - math.Sqrt(5))
	for k := 0; k < cfg.Channels; k++ {
		// Fibonacci spiral over z in (0, 1]
		z := 1 - float64(k)/float64(cfg.Channels)
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(k)
		ch := meas.Channel{
			Name:  fmt.Sprintf("EEG %03d", k+1),
			Kind:  fiff.ChEEG,
			Cal:   1,
			Range: 1,
		}
		ch.Loc[0] = headRadius * r * math.Cos(phi)
		ch.Loc[1] = headRadius * r * math.Sin(phi)
		ch.Loc[2] = headRadius * z
		info.Channels = append(info.Channels, ch)
	}
	info.Channels = append(info.Channels, meas.Channel{Name: StimChannel, Kind: fiff.ChStim, Cal: 1, Range: 1})
	return info
}

// sphereForward places sources on two hemispheric patches and computes the
// potential of a current dipole in an infinite homogeneous medium.
func sphereForward(info *meas.Info, cfg Config) *forward.Forward {
	ori := fiff.SourceOriFixed
	if cfg.FreeOrient {
		ori = fiff.SourceOriFree
	}
	fwd := &forward.Forward{
		SourceOri:  ori,
		CoordFrame: fiff.CoordHead,
		Subject:    cfg.Subject,
		Src: []forward.SourceSpace{
			hemisphere(fiff.HemiLeft, -1, cfg.SourcesPerHemi),
			hemisphere(fiff.HemiRight, 1, cfg.SourcesPerHemi),
		},
	}
	var elec [][3]float64
	for _, ch := range info.Channels {
		if ch.IsEEG() {
			fwd.ChannelNames = append(fwd.ChannelNames, ch.Name)
			elec = append(elec, [3]float64{ch.Loc[0], ch.Loc[1], ch.Loc[2]})
		}
	}

	pos := fwd.Vertices()
	nori := fwd.NumOrient()
	gain := mat.NewDense(len(elec), fwd.NumSources()*nori, nil)
	col := 0
	for h, s := range fwd.Src {
		for _, v := range pos[h] {
			r := mat.Row(nil, v, s.Points)
			nrm := mat.Row(nil, v, s.Normals)
			dirs := [][]float64{nrm}
			if nori == 3 {
				dirs = [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
			}
			for _, q := range dirs {
				for e, p := range elec {
					gain.Set(e, col, dipolePotential(p, r, q))
				}
				col++
			}
		}
	}
	fwd.Gain = gain
	return fwd
}

func dipolePotential(elec [3]float64, pos, moment []float64) float64 {
	var d [3]float64
	var dist2, dot float64
	for k := 0; k < 3; k++ {
		d[k] = elec[k] - pos[k]
		dist2 += d[k] * d[k]
		dot += d[k] * moment[k]
	}
	return dot / (4 * math.Pi * conductivity * math.Pow(dist2, 1.5))
}

// hemisphere lays 2n candidate points on a patch of the source shell centred
// on the given side (-1 left, +1 right) and marks every other one in use.
func hemisphere(id int32, side float64, n int) forward.SourceSpace {
	npts := 2 * n
	pts := mat.NewDense(npts, 3, nil)
	nrm := mat.NewDense(npts, 3, nil)
	used := make([]int, 0, n)
	for k := 0; k < npts; k++ {
		theta := math.Pi/6 + math.Pi/3*float64(k)/float64(npts)
		phi := float64(k) * 2.4
		u := []float64{
			side * math.Abs(math.Sin(theta)*math.Cos(phi)) * 0.8,
			math.Sin(theta) * math.Sin(phi),
			math.Cos(theta),
		}
		norm := math.Sqrt(u[0]*u[0] + u[1]*u[1] + u[2]*u[2])
		for c := range u {
			u[c] /= norm
		}
		pts.SetRow(k, []float64{sourceRadius * u[0], sourceRadius * u[1], sourceRadius * u[2]})
		nrm.SetRow(k, u)
		if k%2 == 0 {
			used = append(used, k)
		}
	}
	return forward.SourceSpace{Kind: fiff.SourceSpaceSurface, ID: id, Points: pts, Normals: nrm, Vertno: used}
}
