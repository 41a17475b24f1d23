package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Pipeline stage names.
const (
	StageSTTReady   = "stt_ready"
	StageCompletion = "completion"
	StageTTS        = "tts"
	StagePipeline   = "pipeline"
)

// stageBudgets is the p95 latency each stage is expected to stay under, in
// pipeline order. Stages outside this list are reported after these, by name.
var stageBudgets = []struct {
	stage  string
	budget time.Duration
}{
	{StageSTTReady, 500 * time.Millisecond},
	{StageCompletion, 1500 * time.Millisecond},
	{StageTTS, 1200 * time.Millisecond},
	{StagePipeline, 3 * time.Second},
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts samples in the window slower than the target.
	OverTarget int `json:"over_target,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// stageWindow holds the most recent observations of each stage.
type stageWindow struct {
	mu      sync.Mutex
	limit   int
	samples map[string][]time.Duration
}

func newStageWindow(limit int) *stageWindow {
	if limit <= 0 {
		limit = 256
	}
	return &stageWindow{limit: limit, samples: make(map[string][]time.Duration)}
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := append(w.samples[stage], d)
	// Compact only once the slice holds two windows, so appends stay cheap.
	if len(s) >= 2*w.limit {
		s = slices.Clone(s[len(s)-w.limit:])
	}
	w.samples[stage] = s
}

// recent returns a copy of the last limit samples of stage, oldest first.
func (w *stageWindow) recent(stage string) []time.Duration {
	s := w.samples[stage]
	if len(s) > w.limit {
		s = s[len(s)-w.limit:]
	}
	return slices.Clone(s)
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	order := stageOrder(w.samples)
	windows := make([][]time.Duration, len(order))
	for i, stage := range order {
		windows[i] = w.recent(stage)
	}
	limit := w.limit
	w.mu.Unlock()

	stats := make([]StageStats, 0, len(order))
	for i, stage := range order {
		if len(windows[i]) > 0 {
			stats = append(stats, summarize(stage, windows[i]))
		}
	}
	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  limit,
		Stages:      stats,
	}
}

func summarize(stage string, window []time.Duration) StageStats {
	last := window[len(window)-1]
	sorted := slices.Clone(window)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	st := StageStats{
		Stage:   stage,
		Samples: len(sorted),
		LastMS:  millis(last),
		AvgMS:   millis(total / time.Duration(len(sorted))),
		P50MS:   millis(nearestRank(sorted, 50)),
		P95MS:   millis(nearestRank(sorted, 95)),
		P99MS:   millis(nearestRank(sorted, 99)),
		MaxMS:   millis(sorted[len(sorted)-1]),
	}
	if budget := stageBudget(stage); budget > 0 {
		st.TargetP95MS = millis(budget)
		idx, _ := slices.BinarySearch(sorted, budget+1)
		st.OverTarget = len(sorted) - idx
	}
	return st
}

// nearestRank returns the smallest sample such that at least pct percent of
// samples are at or below it.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := int(math.Ceil(float64(pct) / 100 * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

func stageOrder(samples map[string][]time.Duration) []string {
	order := make([]string, 0, len(samples))
	for _, b := range stageBudgets {
		if _, ok := samples[b.stage]; ok {
			order = append(order, b.stage)
		}
	}
	var extra []string
	for stage := range samples {
		if stageBudget(stage) == 0 {
			extra = append(extra, stage)
		}
	}
	slices.Sort(extra)
	return append(order, extra...)
}

func stageBudget(stage string) time.Duration {
	for _, b := range stageBudgets {
		if b.stage == stage {
			return b.budget
		}
	}
	return 0
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
