// Package metrics implements C2, the Metrics Ingestor: validation,
// EWMA smoothing, and persistence of self-reported backend health
// samples (spec.md §4.2).
package metrics

import "time"

// Sample is one self-reported health report from a backend.
type Sample struct {
	ServerID       string  `json:"server_id"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorPct       float64 `json:"error_pct"`
	TimeoutPct     float64 `json:"timeout_pct"`
	UptimePct      float64 `json:"uptime_pct"`
	// SuccessRatePct is optional (spec.md §3) and carried through for
	// the weight engine's reason text only — it never feeds the
	// composite score (WeightCalculationService.buildScoreReason).
	// When omitted, it defaults to 100-ErrorPct on ingest.
	SuccessRatePct float64 `json:"success_rate_pct"`
}

// Record is the stored projection of a Sample after EWMA smoothing
// and degradation scoring (spec.md §4.2 step 4, grounded on
// ServerMetrics.java's @PrePersist fields).
type Record struct {
	ServerID         string    `json:"server_id"`
	Timestamp        time.Time `json:"timestamp"`
	ResponseTimeMs   float64   `json:"response_time_ms"`
	ErrorPct         float64   `json:"error_pct"`
	TimeoutPct       float64   `json:"timeout_pct"`
	UptimePct        float64   `json:"uptime_pct"`
	SuccessRatePct   float64   `json:"success_rate_pct"`
	EWMALatency      float64   `json:"ewma_latency"`
	DegradationScore float64   `json:"degradation_score"`
}

// EffectiveLatency returns the EWMA latency when available, falling
// back to the raw response time on the first-ever sample for a server
// (ServerMetrics.getEffectiveLatency).
func (r Record) EffectiveLatency() float64 {
	if r.EWMALatency > 0 {
		return r.EWMALatency
	}
	return r.ResponseTimeMs
}

// IsStale reports whether this record is older than maxAge relative to
// now — used by the recompute-readiness check (§4.2 step 5). The
// weight engine's contributor selection does not check record age.
func (r Record) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.Timestamp) > maxAge
}

// calculateEWMA applies L0 = M0; Lt = alpha*Mt + (1-alpha)*Lt-1
// (spec.md §4.2 step 2, ServerMetrics.calculateEwmaLatency).
func calculateEWMA(previous float64, hasPrevious bool, sample, alpha float64) float64 {
	if !hasPrevious {
		return sample
	}
	return alpha*sample + (1-alpha)*previous
}

// calculateDegradationScore combines the four raw inputs into a single
// score per spec.md §4.4's table (ServerMetrics.calculateDegradationScore):
// min(500, responseTime) + 20*errorPct + 20*timeoutPct + 2*(100-uptimePct).
func calculateDegradationScore(responseTimeMs, errorPct, timeoutPct, uptimePct float64) float64 {
	rt := responseTimeMs
	if rt > 500 {
		rt = 500
	}
	return rt + 20*errorPct + 20*timeoutPct + 2*(100-uptimePct)
}
