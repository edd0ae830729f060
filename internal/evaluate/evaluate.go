// Package evaluate holds the alarm rules. Evaluate is a pure function over
// a route's current statistics; it performs no I/O so every rule is
// independently unit-testable.
package evaluate

import (
	"fmt"
	"math"
	"time"

	"velocity/pkg/models"
)

// Targets is a pair of service-level targets.
type Targets struct {
	P95MS  float64
	ErrPct float64
}

// SLO holds default targets plus per-route overrides.
type SLO struct {
	Default Targets
	Routes  map[string]Targets
}

// TargetsFor resolves the targets for a route.
func (s SLO) TargetsFor(route string) Targets {
	if t, ok := s.Routes[route]; ok {
		return t
	}
	return s.Default
}

// Error-rate rule thresholds. The minimum sample count suppresses false
// positives on low-traffic routes where one failure looks like 100%.
const (
	errRateMinSamples  = 5
	errRateWarnPct     = 5.0
	errRateCriticalPct = 20.0
)

// Regression rule thresholds. Both the absolute and relative deltas must
// hold: a climb from 2ms to 3ms is a 50% regression but sits below the
// noise floor.
const (
	regressWindowBuckets = 6
	regressAbsMS         = 30.0
	regressRelPct        = 20.0
	regressCriticalPct   = 50.0
)

// sloWarnFactor is the headroom above a target before a dimension turns
// critical.
const sloWarnFactor = 1.2

// Evaluate runs every alarm rule for one route. Rules are independent; a
// route may fire several alarms in the same pass. Each returned alarm is
// decorated with the configured route owner.
func Evaluate(now time.Time, route string, sum models.RouteSummary, trend []models.TrendBucket, slo SLO, owners map[string]models.RouteOwner) []models.Alarm {
	var alarms []models.Alarm

	if a := evalErrorRate(now, route, sum); a != nil {
		alarms = append(alarms, *a)
	}
	if a := evalP95Regress(now, route, trend); a != nil {
		alarms = append(alarms, *a)
	}
	if a := evalSLOViolation(now, route, sum, slo.TargetsFor(route)); a != nil {
		alarms = append(alarms, *a)
	}

	if owner, ok := owners[route]; ok {
		o := owner
		for i := range alarms {
			alarms[i].Owner = &o
		}
	}
	return alarms
}

func evalErrorRate(now time.Time, route string, sum models.RouteSummary) *models.Alarm {
	if sum.Count < errRateMinSamples || sum.ErrRatePct < errRateWarnPct {
		return nil
	}
	severity := models.SeverityWarning
	if sum.ErrRatePct >= errRateCriticalPct {
		severity = models.SeverityCritical
	}
	return &models.Alarm{
		Route:    route,
		Kind:     models.KindErrorRate,
		Severity: severity,
		Since:    now,
		Evidence: map[string]interface{}{
			"err_rate_1m": sum.ErrRatePct,
			"samples_1m":  sum.Count,
		},
		Hint: fmt.Sprintf("%.2f%% of the last %d requests failed; check recent deploys and downstream dependencies", sum.ErrRatePct, sum.Count),
	}
}

func evalP95Regress(now time.Time, route string, trend []models.TrendBucket) *models.Alarm {
	if len(trend) < regressWindowBuckets {
		return nil
	}
	tail := trend[len(trend)-regressWindowBuckets:]
	prevAvg, prevOK := avgP95(tail[:3])
	lastAvg, lastOK := avgP95(tail[3:])
	if !prevOK || !lastOK {
		return nil
	}

	deltaMS := lastAvg - prevAvg
	if deltaMS < regressAbsMS {
		return nil
	}
	deltaPct := deltaMS / prevAvg * 100
	if deltaPct < regressRelPct {
		return nil
	}

	severity := models.SeverityWarning
	if deltaPct >= regressCriticalPct {
		severity = models.SeverityCritical
	}
	return &models.Alarm{
		Route:    route,
		Kind:     models.KindP95Regress,
		Severity: severity,
		Since:    now,
		Evidence: map[string]interface{}{
			"prev3_avg_p95_ms": round2(prevAvg),
			"last3_avg_p95_ms": round2(lastAvg),
			"delta_ms":         round2(deltaMS),
			"delta_pct":        round2(deltaPct),
		},
		Hint: fmt.Sprintf("p95 climbed from %.0fms to %.0fms over the last 3 buckets", prevAvg, lastAvg),
	}
}

type sloState int

const (
	sloOK sloState = iota
	sloWarn
	sloCritical
)

func classify(value, target float64) sloState {
	switch {
	case value <= target:
		return sloOK
	case value <= target*sloWarnFactor:
		return sloWarn
	default:
		return sloCritical
	}
}

func worse(a, b sloState) sloState {
	if a > b {
		return a
	}
	return b
}

// evalSLOViolation fires only when the overall state is critical; a warn
// state is advisory and surfaced through the read endpoints instead.
func evalSLOViolation(now time.Time, route string, sum models.RouteSummary, t Targets) *models.Alarm {
	if sum.Count == 0 {
		return nil
	}
	latency := classify(sum.P95MS, t.P95MS)
	errors := classify(sum.ErrRatePct, t.ErrPct)
	if worse(latency, errors) != sloCritical {
		return nil
	}
	return &models.Alarm{
		Route:    route,
		Kind:     models.KindSLOViolation,
		Severity: models.SeverityCritical,
		Since:    now,
		Evidence: map[string]interface{}{
			"p95_ms":         sum.P95MS,
			"p95_target_ms":  t.P95MS,
			"err_rate_pct":   sum.ErrRatePct,
			"err_target_pct": t.ErrPct,
		},
		Hint: fmt.Sprintf("route is outside its SLO (p95 %.0fms vs %.0fms, errors %.2f%% vs %.2f%%)", sum.P95MS, t.P95MS, sum.ErrRatePct, t.ErrPct),
	}
}

// avgP95 averages the non-nil p95 values of a bucket slice. ok is false
// when every bucket is empty.
func avgP95(buckets []models.TrendBucket) (float64, bool) {
	sum := 0.0
	n := 0
	for _, b := range buckets {
		if b.P95MS == nil {
			continue
		}
		sum += *b.P95MS
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
