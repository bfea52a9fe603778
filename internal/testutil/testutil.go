// Package testutil provides shared test utilities and fixtures.
//
// Fixtures are synthetic EEG datasets from the simulate package written into a
// per-test temporary directory.
package testutil

import (
	"os"
	"testing"

	"github.com/acpuchades/eegtools/internal/simulate"
)

// Dataset generates a dataset from cfg and writes its files under t.TempDir().
func Dataset(t testing.TB, cfg simulate.Config) (*simulate.Dataset, simulate.Files) {
	t.Helper()
	ds, err := simulate.Generate(cfg)
	AssertNoError(t, err)
	files, err := ds.WriteFiles(t.TempDir(), "sample")
	AssertNoError(t, err)
	return ds, files
}

// Fixture writes the default dataset and returns its paths.
func Fixture(t testing.TB) simulate.Files {
	t.Helper()
	_, files := Dataset(t, simulate.Config{})
	return files
}

// AssertFilesExist fails the test for every path that is not a regular file.
func AssertFilesExist(t testing.TB, paths ...string) {
	t.Helper()
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			t.Errorf("expected file %s: %v", p, err)
		case !info.Mode().IsRegular():
			t.Errorf("expected %s to be a regular file", p)
		}
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
