package llm

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time aggregate of call latency samples.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

type latencySample struct {
	at time.Time
	ms int64
}

// Stats tracks recent LLM call latencies within a rolling window.
// A nil *Stats is a no-op recorder.
type Stats struct {
	mu     sync.Mutex
	window time.Duration
	// samples are kept in arrival order, so expiry only ever trims a prefix.
	samples []latencySample
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{window: window}
}

func (s *Stats) Record(durationMs int64) {
	if s == nil {
		return
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	s.samples = append(s.samples, latencySample{at: now, ms: max(durationMs, 0)})
}

func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}

	s.mu.Lock()
	s.expireLocked(time.Now())
	values := make([]int64, len(s.samples))
	for i, smp := range s.samples {
		values[i] = smp.ms
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return StatsSnapshot{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	var sum int64
	for _, v := range values {
		sum += v
	}
	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func (s *Stats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	keep := sort.Search(len(s.samples), func(i int) bool {
		return !s.samples[i].at.Before(cutoff)
	})
	if keep > 0 {
		s.samples = append(s.samples[:0], s.samples[keep:]...)
	}
}

// percentile interpolates linearly between the two nearest sorted values.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := pct / 100 * float64(len(sorted)-1)
	rank = math.Max(0, math.Min(rank, float64(len(sorted)-1)))
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + frac*(float64(sorted[hi])-float64(sorted[lo]))
}
