package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpuchades/eegtools/internal/fsutil"
)

var osFS fsutil.OSFileSystem

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyDefaults(t *testing.T) {
	t.Setenv("SUBJECTS_DIR", "")
	cfg := &Defaults{}
	assert.Equal(t, "", cfg.GetSubjectsDir())
	assert.Equal(t, "", cfg.GetSubject())
	assert.Equal(t, 1, cfg.GetJobs())
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.Equal(t, "console", cfg.GetLogFormat())
	assert.False(t, cfg.GetGzip())
	assert.Equal(t, "dSPM", cfg.GetMethod())
	assert.Equal(t, "", cfg.GetHistoryDB())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "eeg.json", `{
  "subjects_dir": "/data/subjects",
  "subject": "sample",
  "jobs": -1,
  "log_level": "debug",
  "log_format": "json",
  "gzip": true,
  "method": "sLORETA",
  "history_db": "runs.db"
}`)
	cfg, err := Load(osFS, path)
	require.NoError(t, err)
	assert.Equal(t, "/data/subjects", cfg.GetSubjectsDir())
	assert.Equal(t, "sample", cfg.GetSubject())
	assert.Equal(t, -1, cfg.GetJobs())
	assert.Equal(t, "debug", cfg.GetLogLevel())
	assert.Equal(t, "json", cfg.GetLogFormat())
	assert.True(t, cfg.GetGzip())
	assert.Equal(t, "sLORETA", cfg.GetMethod())
	assert.Equal(t, "runs.db", cfg.GetHistoryDB())
}

func TestLoadFromFileSystem(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/etc/eegtools/eeg.json", []byte(`{"subject": "bert"}`), 0644))

	cfg, err := Load(fsys, "/etc/eegtools/eeg.json")
	require.NoError(t, err)
	assert.Equal(t, "bert", cfg.GetSubject())

	_, err = Load(fsys, "/etc/eegtools/other.json")
	assert.ErrorContains(t, err, "stat config file")
}

func TestLoadPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"jobs": 4}`)
	cfg, err := Load(osFS, path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.GetJobs())
	assert.Nil(t, cfg.Method)
	assert.Equal(t, "dSPM", cfg.GetMethod())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "eeg.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"jobs": `, "parse config JSON"},
		{"bad level", "lvl.json", `{"log_level": "loud"}`, "log_level"},
		{"bad format", "fmt.json", `{"log_format": "xml"}`, "log_format"},
		{"bad method", "m.json", `{"method": "dspm"}`, "method"},
		{"empty subject", "s.json", `{"subject": ""}`, "subject"},
		{"too large", "big.json", `{"subject": "` + strings.Repeat("a", 1<<20) + `"}`, "too large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(osFS, writeConfig(t, tc.file, tc.body))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}

	_, err := Load(osFS, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat config file")
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := Resolve(osFS, "")
	require.NoError(t, err)
	assert.Equal(t, &Defaults{}, cfg)

	path := writeConfig(t, "env.json", `{"method": "MNE"}`)
	t.Setenv(EnvPath, path)
	cfg, err = Resolve(osFS, "")
	require.NoError(t, err)
	assert.Equal(t, "MNE", cfg.GetMethod())

	explicit := writeConfig(t, "flag.json", `{"method": "eLORETA"}`)
	cfg, err = Resolve(osFS, explicit)
	require.NoError(t, err)
	assert.Equal(t, "eLORETA", cfg.GetMethod())
}

func TestSubjectsDirFromEnv(t *testing.T) {
	t.Setenv("SUBJECTS_DIR", "/opt/freesurfer/subjects")
	cfg := &Defaults{}
	assert.Equal(t, "/opt/freesurfer/subjects", cfg.GetSubjectsDir())

	dir := "/elsewhere"
	cfg.SubjectsDir = &dir
	assert.Equal(t, "/elsewhere", cfg.GetSubjectsDir())
}
