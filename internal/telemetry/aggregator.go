package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"

	"velocity/internal/metrics"
	"velocity/pkg/models"
)

// Window spans held per route.
const (
	WindowShort = 1 * time.Minute
	WindowMid   = 5 * time.Minute
	WindowLong  = 15 * time.Minute
)

// Trend series shape: fixed-width buckets re-derived from the 5-minute window.
const (
	TrendBucketCount = 30
	TrendBucketSpan  = 10 * time.Second
)

type sample struct {
	ts         time.Time
	durationMS float64
	success    bool
}

// routeWindows holds the three sample sequences for one route. Each sequence
// stays timestamp-ascending; trimming drops from the front on every
// insert/read so the oldest sample is never older than now minus the span.
type routeWindows struct {
	mu    sync.Mutex
	short []sample
	mid   []sample
	long  []sample
}

// Aggregator maintains sliding-window latency/error samples per route.
// Record is called inline with request handling and never blocks on I/O;
// unrelated routes do not contend because each route carries its own lock.
type Aggregator struct {
	mu     sync.RWMutex
	routes map[string]*routeWindows
	now    func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		routes: make(map[string]*routeWindows),
		now:    time.Now,
	}
}

func (a *Aggregator) route(key string) *routeWindows {
	a.mu.RLock()
	rw := a.routes[key]
	a.mu.RUnlock()
	if rw != nil {
		return rw
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if rw = a.routes[key]; rw == nil {
		rw = &routeWindows{}
		a.routes[key] = rw
	}
	return rw
}

// Record appends one observed request timing to all three windows.
func (a *Aggregator) Record(route string, durationMS float64, success bool) {
	now := a.now()
	s := sample{ts: now, durationMS: durationMS, success: success}

	rw := a.route(route)
	rw.mu.Lock()
	rw.short = append(trim(rw.short, now.Add(-WindowShort)), s)
	rw.mid = append(trim(rw.mid, now.Add(-WindowMid)), s)
	rw.long = append(trim(rw.long, now.Add(-WindowLong)), s)
	rw.mu.Unlock()

	metrics.SamplesRecorded.Inc()
}

// Summarize computes the current summary for one of the three window spans.
// Unknown spans and empty windows yield a zero-value summary.
func (a *Aggregator) Summarize(route string, span time.Duration) models.RouteSummary {
	a.mu.RLock()
	rw := a.routes[route]
	a.mu.RUnlock()
	if rw == nil {
		return models.RouteSummary{}
	}

	now := a.now()
	cutoff := now.Add(-span)

	rw.mu.Lock()
	var samples []sample
	switch span {
	case WindowShort:
		rw.short = trim(rw.short, cutoff)
		samples = append([]sample(nil), rw.short...)
	case WindowMid:
		rw.mid = trim(rw.mid, cutoff)
		samples = append([]sample(nil), rw.mid...)
	case WindowLong:
		rw.long = trim(rw.long, cutoff)
		samples = append([]sample(nil), rw.long...)
	}
	rw.mu.Unlock()

	return summarize(samples, span)
}

// Trend re-derives the fixed-length bucket series from the 5-minute window.
// The series is recomputed fresh on every call.
func (a *Aggregator) Trend(route string) []models.TrendBucket {
	now := a.now()
	start := now.Add(-WindowMid)

	buckets := make([]models.TrendBucket, TrendBucketCount)
	counts := make([]int, TrendBucketCount)
	failures := make([]int, TrendBucketCount)
	durations := make([][]float64, TrendBucketCount)
	for i := range buckets {
		buckets[i].BucketStart = start.Add(time.Duration(i) * TrendBucketSpan)
	}

	a.mu.RLock()
	rw := a.routes[route]
	a.mu.RUnlock()

	if rw != nil {
		rw.mu.Lock()
		rw.mid = trim(rw.mid, start)
		for _, s := range rw.mid {
			idx := int(s.ts.Sub(start) / TrendBucketSpan)
			if idx < 0 {
				idx = 0
			}
			if idx >= TrendBucketCount {
				idx = TrendBucketCount - 1
			}
			counts[idx]++
			if !s.success {
				failures[idx]++
			}
			durations[idx] = append(durations[idx], s.durationMS)
		}
		rw.mu.Unlock()
	}

	for i := range buckets {
		if counts[i] == 0 {
			continue
		}
		buckets[i].RPS = round2(float64(counts[i]) / TrendBucketSpan.Seconds())
		buckets[i].ErrRatePct = round2(float64(failures[i]) / float64(counts[i]) * 100)
		sort.Float64s(durations[i])
		p95 := percentile(durations[i], 0.95)
		buckets[i].P95MS = &p95
	}
	return buckets
}

// Routes returns the known route keys.
func (a *Aggregator) Routes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.routes))
	for k := range a.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the current summaries for every route across all three
// windows. This is the read surface for dashboards.
func (a *Aggregator) Snapshot() map[string]models.WindowedSummary {
	out := make(map[string]models.WindowedSummary)
	for _, route := range a.Routes() {
		out[route] = models.WindowedSummary{
			OneMinute:      a.Summarize(route, WindowShort),
			FiveMinutes:    a.Summarize(route, WindowMid),
			FifteenMinutes: a.Summarize(route, WindowLong),
		}
	}
	return out
}

func trim(samples []sample, cutoff time.Time) []sample {
	idx := 0
	for idx < len(samples) && samples[idx].ts.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return samples
	}
	return samples[idx:]
}

func summarize(samples []sample, span time.Duration) models.RouteSummary {
	n := len(samples)
	if n == 0 {
		return models.RouteSummary{}
	}

	durations := make([]float64, 0, n)
	failures := 0
	for _, s := range samples {
		durations = append(durations, s.durationMS)
		if !s.success {
			failures++
		}
	}
	sort.Float64s(durations)

	return models.RouteSummary{
		Count:      n,
		RPS:        round2(float64(n) / span.Seconds()),
		P50MS:      percentile(durations, 0.50),
		P95MS:      percentile(durations, 0.95),
		ErrRatePct: round2(float64(failures) / float64(n) * 100),
	}
}

// percentile returns the value at index floor(p*(n-1)) of an
// ascending-sorted slice. No interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(len(sorted)-1)))
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
