package runlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpuchades/eegtools/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := timeutil.NewMockClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	clock.Tick(1500 * time.Millisecond)
	s.clock = clock
	return s
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_runs.up.sql")
	assert.Len(t, names, 4, "every migration needs an up and a down file")
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	run := &Run{Input: "a-raw.fif", Type: "raw", Method: "dSPM", Forward: "a-fwd.fif"}
	require.NoError(t, s.Start(context.Background(), run))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "a-raw.fif", got.Input)
}

func TestStartFinish(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	run := &Run{Input: "s01-ave.fif", Type: "evoked", Method: "sLORETA", Forward: "s01-fwd.fif", Version: "0.3.0"}
	require.NoError(t, s.Start(ctx, run))
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.FinishedAt.IsZero())
	assert.Nil(t, got.Outputs)

	outputs := []string{"s01.inv", "s01.sLORETA-lh.stc", "s01.sLORETA-rh.stc"}
	require.NoError(t, s.Finish(ctx, run.ID, Result{Outputs: outputs, NSources: 8196, NTimes: 421}))

	got, err = s.Get(ctx, run.ID)
	require.NoError(t, err)
	want := Run{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.StartedAt.Add(1500 * time.Millisecond),
		Input:      "s01-ave.fif",
		Type:       "evoked",
		Method:     "sLORETA",
		Forward:    "s01-fwd.fif",
		Outputs:    outputs,
		NSources:   8196,
		NTimes:     421,
		Status:     StatusOK,
		Version:    "0.3.0",
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestFinishStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus Status
		wantError  string
	}{
		{"success", nil, StatusOK, ""},
		{"failure", errors.New("no channels"), StatusFailed, "no channels"},
		{"interrupted", fmt.Errorf("covariance: %w", context.Canceled), StatusInterrupted, "covariance: context canceled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openTestStore(t)
			run := &Run{Input: "x.fif", Type: "raw", Method: "MNE", Forward: "f.fif"}
			require.NoError(t, s.Start(ctx, run))
			require.NoError(t, s.Finish(ctx, run.ID, Result{Err: tc.err}))
			got, err := s.Get(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.Equal(t, tc.wantError, got.Error)
		})
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Finish(ctx, uuid.New(), Result{}), ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var ids []uuid.UUID
	for k := 0; k < 5; k++ {
		run := &Run{Input: fmt.Sprintf("run%d-raw.fif", k), Type: "raw", Method: "dSPM", Forward: "f.fif"}
		require.NoError(t, s.Start(ctx, run))
		ids = append(ids, run.ID)
	}

	recent, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[3], recent[1].ID)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "run0-raw.fif", all[4].Input)
}
