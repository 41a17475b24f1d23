package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StagePipeline, 500*time.Millisecond)
	w.Observe(StagePipeline, 700*time.Millisecond)
	w.Observe(StagePipeline, 3500*time.Millisecond)
	w.Observe("", 10*time.Millisecond)
	w.Observe(StageTTS, -time.Millisecond)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StagePipeline || s.Samples != 3 {
		t.Fatalf("stats = %+v, want 3 pipeline samples", s)
	}
	if s.LastMS != 3500 || s.MaxMS != 3500 {
		t.Fatalf("LastMS = %.2f MaxMS = %.2f, want 3500", s.LastMS, s.MaxMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS != 3500 {
		t.Fatalf("P95MS = %.2f, want 3500", s.P95MS)
	}
	if s.TargetP95MS != 3000 || s.OverTarget != 1 {
		t.Fatalf("TargetP95MS = %.2f OverTarget = %d, want 3000 and 1", s.TargetP95MS, s.OverTarget)
	}
}

func TestStageWindowKeepsMostRecent(t *testing.T) {
	w := newStageWindow(2)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		w.Observe(StageCompletion, time.Duration(ms)*time.Millisecond)
	}

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 450 {
		t.Fatalf("AvgMS = %.2f, want 450", s.AvgMS)
	}
	if s.LastMS != 500 {
		t.Fatalf("LastMS = %.2f, want 500", s.LastMS)
	}
}

func TestStageWindowOrdersStagesByPipeline(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("custom", time.Millisecond)
	w.Observe(StageTTS, time.Millisecond)
	w.Observe(StageSTTReady, time.Millisecond)

	var got []string
	for _, s := range w.Snapshot().Stages {
		got = append(got, s.Stage)
	}
	want := []string{StageSTTReady, StageTTS, "custom"}
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		pct  int
		want time.Duration
	}{
		{pct: 50, want: 5},
		{pct: 95, want: 10},
		{pct: 0, want: 1},
		{pct: 100, want: 10},
	}
	for _, tc := range tests {
		if got := nearestRank(sorted, tc.pct); got != tc.want {
			t.Fatalf("nearestRank(%d) = %v, want %v", tc.pct, got, tc.want)
		}
	}
}

func TestMillisRoundsToHundredths(t *testing.T) {
	if got := millis(1234567 * time.Nanosecond); got != 1.23 {
		t.Fatalf("millis() = %v, want 1.23", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.ObserveProviderCall("openai", time.Second, nil)
	m.ObserveStage(StageTTS, time.Second)
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}
