package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/acpuchades/eegtools/internal/timeutil"
)

// Metrics is the per-run registry. A private registry keeps the textfile free
// of Go runtime collectors.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Samples       *prometheus.CounterVec
	Sources       prometheus.Gauge
	Runs          *prometheus.CounterVec

	clock timeutil.Clock
}

// NewMetrics registers the eeg-dipole collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		clock:    timeutil.RealClock{},
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eeg_dipole_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		Samples: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eeg_dipole_input_samples_total",
				Help: "Samples read per data representation",
			},
			[]string{"type"},
		),
		Sources: f.NewGauge(prometheus.GaugeOpts{
			Name: "eeg_dipole_sources",
			Help: "Number of source locations in the last estimate",
		}),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eeg_dipole_runs_total",
				Help: "Completed runs by outcome",
			},
			[]string{"status"},
		),
	}
}

// Stage starts timing a pipeline stage; call the returned function when it ends.
func (m *Metrics) Stage(name string) func() {
	start := m.clock.Now()
	return func() {
		m.StageDuration.WithLabelValues(name).Observe(m.clock.Since(start).Seconds())
	}
}

// WriteTextfile writes the registry in the text exposition format used by the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
