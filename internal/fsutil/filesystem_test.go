package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()
	assert.False(t, IsDir(m, "/data/sample"))

	require.NoError(t, m.WriteFile("/data/sample/run1-raw.fif", []byte("fiff"), 0644))
	assert.True(t, IsDir(m, "/data/sample"))
	assert.True(t, IsDir(m, "/data"))
	assert.False(t, IsDir(m, "/data/sample/run1-raw.fif"))

	data, err := m.ReadFile("/data/sample/run1-raw.fif")
	require.NoError(t, err)
	assert.Equal(t, []byte("fiff"), data)

	info, err := m.Stat("/data/sample/run1-raw.fif")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
	assert.Equal(t, "run1-raw.fif", info.Name())

	_, err = m.Stat("/data/other")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = m.ReadFile("/data/other")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, m.MkdirAll("/subjects/sample/surf", 0755))
	assert.True(t, IsDir(m, "/subjects/sample"))
	assert.Error(t, m.MkdirAll("/data/sample/run1-raw.fif", 0755))
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	var o OSFileSystem
	assert.True(t, IsDir(o, dir))

	file := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(file, []byte("ok"), 0644))
	assert.False(t, IsDir(o, file))
	data, err := o.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))

	_, err = o.Stat(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestOutputStem(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sample_audvis-raw.fif", "sample_audvis"},
		{"sample_audvis-ave.fif.gz", "sample_audvis"},
		{"/data/s01/task-epo.fif", "/data/s01/task"},
		{"recording.fif", "recording"},
		{"recording", "recording"},
		{"-raw.fif", "-raw"},
		{"notes-raw.txt", "notes-raw.txt"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, OutputStem(tc.in))
		})
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out/s01.inv", OutputPath("out/s01", KindInverse, false))
	assert.Equal(t, "out/s01.inv.gz", OutputPath("out/s01", KindInverse, true))
	assert.Equal(t, "s01.dSPM", OutputPath("s01", "dSPM", false))
	assert.Equal(t, "s01.MNE-007", EpochStem("s01", "MNE", 7))
	assert.Equal(t, "s01.MNE-123", EpochStem("s01", "MNE", 123))
}
