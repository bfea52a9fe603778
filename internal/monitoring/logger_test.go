package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpuchades/eegtools/internal/timeutil"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test")
	assert.False(t, called)
}

func TestLogf_Default(t *testing.T) {
	require.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		logInfo bool
		wantErr bool
	}{
		{"console default", LogConfig{}, true, false},
		{"json", LogConfig{Format: "json"}, true, false},
		{"warn hides info", LogConfig{Level: "warn"}, false, false},
		{"debug", LogConfig{Level: "debug"}, true, false},
		{"bad level", LogConfig{Level: "loud"}, false, true},
		{"bad format", LogConfig{Format: "xml"}, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.cfg.Output = &buf
			logger, err := NewLogger(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			logger.Sugar().Infow("stage done", "stage", "covariance")
			require.NoError(t, logger.Sync())
			assert.Equal(t, tc.logInfo, strings.Contains(buf.String(), "stage done"), buf.String())
		})
	}
}

func TestConfigureRoutesLogf(t *testing.T) {
	origLogf, origLog := Logf, Log
	defer func() { Logf, Log = origLogf, origLog }()

	var buf bytes.Buffer
	flush, err := Configure(LogConfig{Format: "json", Output: &buf})
	require.NoError(t, err)
	Logf("read %d channels", 60)
	flush()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "read 60 channels", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetrics()
	done := m.Stage("inverse")
	done()
	m.Samples.WithLabelValues("raw").Add(1200)
	m.Sources.Set(8196)
	m.Runs.WithLabelValues("ok").Inc()

	path := filepath.Join(t.TempDir(), "eeg_dipole.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `eeg_dipole_stage_duration_seconds_count{stage="inverse"} 1`)
	assert.Contains(t, text, `eeg_dipole_input_samples_total{type="raw"} 1200`)
	assert.Contains(t, text, "eeg_dipole_sources 8196")
	assert.Contains(t, text, `eeg_dipole_runs_total{status="ok"} 1`)
	assert.NotContains(t, text, "go_goroutines")
}

func TestStageDuration(t *testing.T) {
	m := NewMetrics()
	clock := timeutil.NewMockClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	clock.Tick(2 * time.Second)
	m.clock = clock

	done := m.Stage("covariance")
	done()

	path := filepath.Join(t.TempDir(), "eeg_dipole.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `eeg_dipole_stage_duration_seconds_sum{stage="covariance"} 2`)
	assert.Contains(t, string(data), `eeg_dipole_stage_duration_seconds_bucket{stage="covariance",le="1"} 0`)
}
