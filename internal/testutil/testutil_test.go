package testutil

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/acpuchades/eegtools/internal/simulate"
)

func TestFixture(t *testing.T) {
	files := Fixture(t)
	AssertFilesExist(t, files.Raw, files.Noise, files.Forward, files.Epochs, files.Evoked)
	if filepath.Base(files.Raw) != "sample-raw.fif" {
		t.Errorf("raw file = %s, want sample-raw.fif", filepath.Base(files.Raw))
	}
	if filepath.Dir(files.Raw) != filepath.Dir(files.Evoked) {
		t.Error("fixture files should share one directory")
	}
}

func TestDataset(t *testing.T) {
	ds, files := Dataset(t, simulate.Config{Channels: 8, SourcesPerHemi: 4, FreeOrient: true})
	if got := ds.Forward.NumSources(); got != 8 {
		t.Errorf("NumSources() = %d, want 8", got)
	}
	AssertFilesExist(t, files.Forward)
}

// recorder captures failures instead of failing the running test.
type recorder struct {
	testing.TB
	failed bool
}

func (r *recorder) Helper()               {}
func (r *recorder) Errorf(string, ...any) { r.failed = true }
func (r *recorder) Fatalf(string, ...any) { r.failed = true }
func (r *recorder) Fatal(...any)          { r.failed = true }

func TestAssertFilesExist_FailurePath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.fif")},
		{"directory", dir},
	}
	for _, tc := range tests {
		rec := &recorder{}
		AssertFilesExist(rec, tc.path)
		if !rec.failed {
			t.Errorf("%s: expected a failure", tc.name)
		}
	}
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)

	rec := &recorder{}
	AssertNoError(rec, errors.New("boom"))
	if !rec.failed {
		t.Error("expected a failure on non-nil error")
	}
}

func TestAssertError(t *testing.T) {
	AssertError(t, errors.New("expected"))

	rec := &recorder{}
	AssertError(rec, nil)
	if !rec.failed {
		t.Error("expected a failure on nil error")
	}
}
