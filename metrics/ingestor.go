package metrics

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/intouch-cp/lb-controlplane/cperrors"
	"github.com/intouch-cp/lb-controlplane/coldstore"
	"github.com/intouch-cp/lb-controlplane/logger"
	"github.com/intouch-cp/lb-controlplane/registry"
)

// hotStore and coldStore are the narrow slices of sharedstate.Store
// and coldstore.Store the ingestor needs, kept as interfaces so tests
// can supply fakes without standing up Redis or sqlite.
type hotStore interface {
	PutMetric(ctx context.Context, serverID string, sample interface{})
	GetMetric(ctx context.Context, serverID string, out interface{}) bool
	ScanAllMetrics(ctx context.Context, newItem func() interface{}) map[string]interface{}
}

type coldRecorder interface {
	Put(ctx context.Context, r coldstore.Record)
	LatestForServer(ctx context.Context, serverID string) (coldstore.Record, bool)
}

// RecomputeFreshnessThreshold and RecomputeMaxAge implement spec.md
// §4.2 step 5's ready-to-recompute rule: at least 80% of known servers
// report fresh data within the last two minutes.
const (
	RecomputeFreshnessThreshold = 0.8
	RecomputeMaxAge             = 2 * time.Minute
)

// Ingestor is C2. It owns no state of its own beyond the EWMA alpha
// and the singleflight group that coalesces concurrent recompute
// triggers raised by bursts of self-reports landing in the same
// instant (spec.md §9's cyclic-dependency note).
type Ingestor struct {
	alpha    float64
	hot      hotStore
	cold     coldRecorder
	reg      *registry.Registry
	recomp   singleflight.Group
	onReady  func(ctx context.Context)
}

// New builds an Ingestor. onReady is invoked (coalesced via
// singleflight) whenever a processed sample leaves the fleet at or
// above the recompute-readiness threshold; pass the weight engine's
// recompute entry point.
func New(alpha float64, hot hotStore, cold coldRecorder, reg *registry.Registry, onReady func(ctx context.Context)) *Ingestor {
	return &Ingestor{alpha: alpha, hot: hot, cold: cold, reg: reg, onReady: onReady}
}

// Ingest validates, smooths, and persists one self-reported sample
// (spec.md §4.2). Returns a cperrors.Validation error for malformed
// input; all other failures are transient and logged rather than
// propagated, since a dropped sample is recoverable on the next report.
func (ig *Ingestor) Ingest(ctx context.Context, s Sample) error {
	if err := validate(s); err != nil {
		return err
	}
	if !ig.reg.Exists(s.ServerID) {
		return cperrors.Validation("unknown server_id: " + s.ServerID)
	}

	previous, hasPrevious := ig.latest(ctx, s.ServerID)

	rec := Record{
		ServerID:       s.ServerID,
		Timestamp:      time.Now(),
		ResponseTimeMs: s.ResponseTimeMs,
		ErrorPct:       s.ErrorPct,
		TimeoutPct:     s.TimeoutPct,
		UptimePct:      s.UptimePct,
		SuccessRatePct: resolveSuccessRate(s),
	}
	rec.EWMALatency = calculateEWMA(previous.EWMALatency, hasPrevious, s.ResponseTimeMs, ig.alpha)
	rec.DegradationScore = calculateDegradationScore(s.ResponseTimeMs, s.ErrorPct, s.TimeoutPct, s.UptimePct)

	ig.hot.PutMetric(ctx, s.ServerID, rec)
	ig.cold.Put(ctx, coldstore.Record{
		ServerID:         rec.ServerID,
		Timestamp:        rec.Timestamp,
		ResponseTimeMs:   rec.ResponseTimeMs,
		ErrorPct:         rec.ErrorPct,
		TimeoutPct:       rec.TimeoutPct,
		UptimePct:        rec.UptimePct,
		SuccessRatePct:   rec.SuccessRatePct,
		EWMALatency:      rec.EWMALatency,
		DegradationScore: rec.DegradationScore,
	})

	logger.WithFields(logger.Fields{
		"server_id":         rec.ServerID,
		"ewma_latency":      rec.EWMALatency,
		"degradation_score": rec.DegradationScore,
	}).Debug("metrics: ingested sample")

	ig.maybeTriggerRecompute(ctx)
	return nil
}

// latest reads the hot store first, falling back to the cold store
// (MetricsCollectionService.calculateEwmaLatency's Redis-then-DB order).
func (ig *Ingestor) latest(ctx context.Context, serverID string) (Record, bool) {
	var rec Record
	if ig.hot.GetMetric(ctx, serverID, &rec) {
		return rec, true
	}
	if cold, ok := ig.cold.LatestForServer(ctx, serverID); ok {
		return Record{
			ServerID:         cold.ServerID,
			Timestamp:        cold.Timestamp,
			ResponseTimeMs:   cold.ResponseTimeMs,
			ErrorPct:         cold.ErrorPct,
			TimeoutPct:       cold.TimeoutPct,
			UptimePct:        cold.UptimePct,
			SuccessRatePct:   cold.SuccessRatePct,
			EWMALatency:      cold.EWMALatency,
			DegradationScore: cold.DegradationScore,
		}, true
	}
	return Record{}, false
}

// AllLatest returns the latest known record per server, hot store
// first, falling back to cold-store records for any server the hot
// store is missing (spec.md §4.3 step 1's contributor selection reads
// through this).
func (ig *Ingestor) AllLatest(ctx context.Context, serverIDs []string) map[string]Record {
	hot := ig.hot.ScanAllMetrics(ctx, func() interface{} { return &Record{} })

	out := make(map[string]Record, len(serverIDs))
	for _, id := range serverIDs {
		if item, ok := hot[id]; ok {
			if rec, ok := item.(*Record); ok {
				out[id] = *rec
				continue
			}
		}
		if cold, ok := ig.cold.LatestForServer(ctx, id); ok {
			out[id] = Record{
				ServerID:         cold.ServerID,
				Timestamp:        cold.Timestamp,
				ResponseTimeMs:   cold.ResponseTimeMs,
				ErrorPct:         cold.ErrorPct,
				TimeoutPct:       cold.TimeoutPct,
				UptimePct:        cold.UptimePct,
				SuccessRatePct:   cold.SuccessRatePct,
				EWMALatency:      cold.EWMALatency,
				DegradationScore: cold.DegradationScore,
			}
		}
	}
	return out
}

// maybeTriggerRecompute implements the 80%-fresh-within-2-minutes
// readiness rule (MetricsCollectionService.triggerWeightRecalculationIfReady).
// Concurrent callers that cross the threshold in the same instant
// collapse into a single recompute via singleflight.
func (ig *Ingestor) maybeTriggerRecompute(ctx context.Context) {
	if ig.onReady == nil {
		return
	}

	all := ig.reg.All()
	if len(all) == 0 {
		return
	}

	latest := ig.AllLatest(ctx, idsOf(all))
	now := time.Now()
	fresh := 0
	for _, rec := range latest {
		if !rec.IsStale(now, RecomputeMaxAge) {
			fresh++
		}
	}

	ratio := float64(fresh) / float64(len(all))
	if ratio < RecomputeFreshnessThreshold {
		return
	}

	ig.recomp.DoChan("recompute", func() (interface{}, error) {
		ig.onReady(ctx)
		return nil, nil
	})
}

func idsOf(servers []registry.ServerDescriptor) []string {
	out := make([]string, len(servers))
	for i, s := range servers {
		out[i] = s.ID
	}
	return out
}

// validate enforces spec.md §4.2 step 1's input bounds without
// mutating any state on rejection.
func validate(s Sample) error {
	if s.ServerID == "" {
		return cperrors.Validation("server_id is required")
	}
	if s.ResponseTimeMs < 0 {
		return cperrors.Validation("response_time_ms must be >= 0")
	}
	if s.ErrorPct < 0 || s.ErrorPct > 100 {
		return cperrors.Validation("error_pct must be in [0,100]")
	}
	if s.TimeoutPct < 0 || s.TimeoutPct > 100 {
		return cperrors.Validation("timeout_pct must be in [0,100]")
	}
	if s.UptimePct < 0 || s.UptimePct > 100 {
		return cperrors.Validation("uptime_pct must be in [0,100]")
	}
	if s.SuccessRatePct < 0 || s.SuccessRatePct > 100 {
		return cperrors.Validation("success_rate_pct must be in [0,100]")
	}
	return nil
}

// resolveSuccessRate fills in success_rate_pct when a reporter omits it
// (spec.md §3 marks it optional): 100-error_pct is the same derivation
// the original's reason text falls back to when no explicit figure is
// reported.
func resolveSuccessRate(s Sample) float64 {
	if s.SuccessRatePct > 0 {
		return s.SuccessRatePct
	}
	return 100 - s.ErrorPct
}
