package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() without a tick moved to %v", got)
	}

	clock.Advance(2 * time.Second)
	if d := clock.Since(start); d != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", d)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if got := clock.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClock_Tick(t *testing.T) {
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Tick(500 * time.Millisecond)

	tests := []time.Duration{0, 500 * time.Millisecond, time.Second}
	for i, want := range tests {
		if got := clock.Now().Sub(start); got != want {
			t.Errorf("call %d: Now() - start = %v, want %v", i, got, want)
		}
	}
	if d := clock.Since(start); d != 1500*time.Millisecond {
		t.Errorf("Since() = %v, want 1.5s", d)
	}
}

func TestMockClock_Concurrent(t *testing.T) {
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Tick(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()

	if d := clock.Since(start); d != 50*time.Millisecond {
		t.Errorf("Since() = %v, want 50ms", d)
	}
}

var _ Clock = RealClock{}
var _ Clock = (*MockClock)(nil)
