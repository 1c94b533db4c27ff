package app

import (
	"math"
	"slices"
	"sync"
	"time"
)

// defaultWindow is the number of samples kept per stage.
const defaultWindow = 100

// Percentiles holds nearest-rank p50 and p95 of a stage.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	N   int
}

// Recent is a point-in-time view of recent request activity since start.
type Recent struct {
	Synthesis Percentiles
	Answer    Percentiles
	Succeeded int64
	Failed    int64
}

// recentStats keeps bounded windows of recent latencies for ;stats. The
// OpenTelemetry histograms hold the long-term view.
type recentStats struct {
	mu        sync.Mutex
	synthesis ring
	answer    ring
	succeeded int64
	failed    int64
}

func newRecentStats(window int) *recentStats {
	if window <= 0 {
		window = defaultWindow
	}
	return &recentStats{synthesis: newRing(window), answer: newRing(window)}
}

func (r *recentStats) synthesized(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesis.add(d)
}

func (r *recentStats) answered(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answer.add(d)
}

func (r *recentStats) finished(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.succeeded++
	} else {
		r.failed++
	}
}

func (r *recentStats) snapshot() Recent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Recent{
		Synthesis: r.synthesis.percentiles(),
		Answer:    r.answer.percentiles(),
		Succeeded: r.succeeded,
		Failed:    r.failed,
	}
}

// ring is a fixed-size buffer of duration samples.
type ring struct {
	data []time.Duration
	pos  int
	full bool
}

func newRing(size int) ring { return ring{data: make([]time.Duration, size)} }

func (b *ring) add(d time.Duration) {
	b.data[b.pos] = d
	b.pos++
	if b.pos == len(b.data) {
		b.pos = 0
		b.full = true
	}
}

func (b *ring) percentiles() Percentiles {
	n := b.pos
	if b.full {
		n = len(b.data)
	}
	if n == 0 {
		return Percentiles{}
	}
	sorted := slices.Clone(b.data[:n])
	slices.Sort(sorted)
	return Percentiles{P50: nearestRank(sorted, 0.50), P95: nearestRank(sorted, 0.95), N: n}
}

func nearestRank(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
