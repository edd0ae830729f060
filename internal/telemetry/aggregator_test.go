package telemetry

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPercentileUsesFloorIndexWithoutInterpolation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.now = fixedClock(base)

	// Durations 1..20ms; p95 index = floor(0.95*19) = 18 -> value 19.
	for i := 1; i <= 20; i++ {
		agg.Record("GET /api/tasks", float64(i), true)
	}

	sum := agg.Summarize("GET /api/tasks", WindowShort)
	if sum.Count != 20 {
		t.Fatalf("expected 20 samples, got %d", sum.Count)
	}
	if sum.P95MS != 19 {
		t.Fatalf("expected p95 19, got %v", sum.P95MS)
	}
	// p50 index = floor(0.5*19) = 9 -> value 10.
	if sum.P50MS != 10 {
		t.Fatalf("expected p50 10, got %v", sum.P50MS)
	}
}

func TestSummarizeComputesRPSAndErrorRate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.now = fixedClock(base)

	agg.Record("GET /api/tasks", 10, true)
	agg.Record("GET /api/tasks", 20, true)
	agg.Record("GET /api/tasks", 30, false)
	agg.Record("GET /api/tasks", 40, true)

	sum := agg.Summarize("GET /api/tasks", WindowShort)
	if sum.ErrRatePct != 25 {
		t.Fatalf("expected 25%% error rate, got %v", sum.ErrRatePct)
	}
	if sum.RPS != 0.07 {
		t.Fatalf("expected rps 0.07, got %v", sum.RPS)
	}
}

func TestSummarizeEmptyWindowIsZeroValue(t *testing.T) {
	agg := NewAggregator()
	sum := agg.Summarize("GET /api/unknown", WindowShort)
	if sum.Count != 0 || sum.RPS != 0 || sum.P95MS != 0 || sum.ErrRatePct != 0 {
		t.Fatalf("expected zero summary, got %+v", sum)
	}
}

func TestWindowPrunesSamplesPastSpan(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.now = fixedClock(t0)

	agg.Record("GET /api/tasks", 10, true)

	agg.now = fixedClock(t0.Add(30 * time.Second))
	agg.Record("GET /api/tasks", 20, true)

	if got := agg.Summarize("GET /api/tasks", WindowShort).Count; got != 2 {
		t.Fatalf("expected 2 samples before expiry, got %d", got)
	}

	// Past t0 + 1m the first sample leaves the 1m window but stays in the
	// 5m and 15m windows.
	agg.now = fixedClock(t0.Add(61 * time.Second))
	if got := agg.Summarize("GET /api/tasks", WindowShort).Count; got != 1 {
		t.Fatalf("expected 1 sample after expiry, got %d", got)
	}
	if got := agg.Summarize("GET /api/tasks", WindowMid).Count; got != 2 {
		t.Fatalf("expected 2 samples in 5m window, got %d", got)
	}

	agg.now = fixedClock(t0.Add(16 * time.Minute))
	if got := agg.Summarize("GET /api/tasks", WindowLong).Count; got != 0 {
		t.Fatalf("expected empty 15m window, got %d", got)
	}
}

func TestTrendProducesFixedLengthBucketSeries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-WindowMid)
	agg := NewAggregator()

	// First sample lands in bucket 0, second in bucket 29.
	agg.now = fixedClock(start.Add(5 * time.Second))
	agg.Record("GET /api/tasks", 100, true)
	agg.now = fixedClock(now.Add(-1 * time.Second))
	agg.Record("GET /api/tasks", 200, false)

	agg.now = fixedClock(now)
	buckets := agg.Trend("GET /api/tasks")
	if len(buckets) != TrendBucketCount {
		t.Fatalf("expected %d buckets, got %d", TrendBucketCount, len(buckets))
	}

	if buckets[0].P95MS == nil || *buckets[0].P95MS != 100 {
		t.Fatalf("expected bucket 0 p95 100, got %v", buckets[0].P95MS)
	}
	if buckets[0].ErrRatePct != 0 {
		t.Fatalf("expected bucket 0 error rate 0, got %v", buckets[0].ErrRatePct)
	}
	if buckets[29].P95MS == nil || *buckets[29].P95MS != 200 {
		t.Fatalf("expected bucket 29 p95 200, got %v", buckets[29].P95MS)
	}
	if buckets[29].ErrRatePct != 100 {
		t.Fatalf("expected bucket 29 error rate 100, got %v", buckets[29].ErrRatePct)
	}

	// Middle buckets saw no samples: nil p95, zero error rate.
	for i := 1; i < 29; i++ {
		if buckets[i].P95MS != nil || buckets[i].ErrRatePct != 0 || buckets[i].RPS != 0 {
			t.Fatalf("expected empty bucket %d, got %+v", i, buckets[i])
		}
	}

	if !buckets[0].BucketStart.Equal(start) {
		t.Fatalf("expected first bucket start %v, got %v", start, buckets[0].BucketStart)
	}
	if !buckets[29].BucketStart.Equal(start.Add(29 * TrendBucketSpan)) {
		t.Fatalf("unexpected last bucket start %v", buckets[29].BucketStart)
	}
}

func TestTrendUnknownRouteReturnsEmptySeries(t *testing.T) {
	agg := NewAggregator()
	buckets := agg.Trend("GET /api/unknown")
	if len(buckets) != TrendBucketCount {
		t.Fatalf("expected %d buckets, got %d", TrendBucketCount, len(buckets))
	}
	for _, b := range buckets {
		if b.P95MS != nil {
			t.Fatalf("expected nil p95 in empty series, got %v", *b.P95MS)
		}
	}
}

func TestSnapshotCoversAllRoutesAndWindows(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.now = fixedClock(base)

	agg.Record("GET /api/tasks", 10, true)
	agg.Record("POST /api/tasks", 20, false)

	snap := agg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(snap))
	}
	entry, ok := snap["POST /api/tasks"]
	if !ok {
		t.Fatalf("missing POST route in snapshot")
	}
	if entry.OneMinute.Count != 1 || entry.FiveMinutes.Count != 1 || entry.FifteenMinutes.Count != 1 {
		t.Fatalf("unexpected snapshot entry: %+v", entry)
	}
	if entry.OneMinute.ErrRatePct != 100 {
		t.Fatalf("expected 100%% error rate, got %v", entry.OneMinute.ErrRatePct)
	}
}

func TestRecordIsSafeUnderConcurrentWriters(t *testing.T) {
	agg := NewAggregator()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				agg.Record("GET /api/tasks", float64(j), j%7 != 0)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if got := agg.Summarize("GET /api/tasks", WindowShort).Count; got != 1600 {
		t.Fatalf("expected 1600 samples, got %d", got)
	}
}
