package models

import "time"

// Sample is one observed request timing. Samples are owned by the window
// aggregator and discarded once they age out of every window.
type Sample struct {
	Timestamp  time.Time `json:"ts"`
	DurationMS float64   `json:"duration_ms"`
	Success    bool      `json:"success"`
}

// RouteSummary is derived from a window's current samples; it is never stored.
type RouteSummary struct {
	Count      int     `json:"count"`
	RPS        float64 `json:"rps"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	ErrRatePct float64 `json:"err_rate_pct"`
}

// WindowedSummary groups the three window summaries for one route.
type WindowedSummary struct {
	OneMinute      RouteSummary `json:"1m"`
	FiveMinutes    RouteSummary `json:"5m"`
	FifteenMinutes RouteSummary `json:"15m"`
}

// TrendBucket is one fixed-width slice of the 5-minute window. A bucket with
// no samples has a nil p95 and a zero error rate.
type TrendBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	RPS         float64   `json:"rps"`
	P95MS       *float64  `json:"p95_ms"`
	ErrRatePct  float64   `json:"err_rate_pct"`
}
