// Package weight implements C3, the Weight Engine: per-pool scoring,
// normalization to a sum of 100, the minimum-traffic safety net,
// policy-override application, and fixed/dynamic renormalization —
// grounded on WeightCalculationService.java.
package weight

import (
	"math"
	"sort"
	"strconv"

	"github.com/intouch-cp/lb-controlplane/metrics"
	"github.com/intouch-cp/lb-controlplane/policy"
	"github.com/intouch-cp/lb-controlplane/registry"
)

// MinTrafficWeight is the emergency-fallback weight assigned to the
// single highest-scoring contributor when every contributor in the pool
// ended up at zero, so a pool with universally poor scores never ends
// up with every server at zero traffic (spec.md §9 Open Question, confirmed against
// WeightCalculationService's MIN_WEIGHT constant).
const MinTrafficWeight = 1

// MaxWeight bounds a single server's share before renormalization.
const MaxWeight = 100

// DefaultWeight is assigned when a contributor has no metrics yet or
// when the raw scores of the pool's scored contributors total zero or less
// (WeightCalculationService's DEFAULT_WEIGHT constant, spec.md §4.4
// Steps 1 and 3).
const DefaultWeight = 10

// healthFloor is the minimum composite raw score a contributor must
// clear to be treated as healthy; below it, normalizeToHundred forces
// the weight to zero ahead of renormalization (Java line 478).
const healthFloor = 0.1

// Allocation is one server's resolved weight for a cycle (spec.md
// §4.3's WeightAllocation).
type Allocation struct {
	ServerID         string
	Pool             registry.Pool
	RawScore         float64
	CalculatedWeight int
	EffectiveWeight  int
	Fixed            bool
	Reason           string

	hasRecord bool
}

// Engine computes per-pool weight allocations from factor-weighted
// sub-scores.
type Engine struct {
	factors Factors
}

// New builds an Engine with the given blend of sub-score factors.
func New(f Factors) *Engine {
	return &Engine{factors: f}
}

// SetFactors replaces the active factor blend (admin surface mutation,
// WeightFactorsService.updateWeightFactors).
func (e *Engine) SetFactors(f Factors) {
	e.factors = f
}

// Factors returns the active factor blend.
func (e *Engine) Factors() Factors {
	return e.factors
}

// Compute runs the full six-step pipeline for one pool: select
// contributors, score, normalize to 100, apply the minimum-traffic
// safety net, apply policy overrides, then renormalize the
// fixed/dynamic partition back to a sum of 100.
func (e *Engine) Compute(pool registry.Pool, servers []registry.ServerDescriptor, records map[string]metrics.Record, policies map[string]policy.Config) []Allocation {
	contributors := selectContributors(servers, policies)
	if len(contributors) == 0 {
		return nil
	}

	allocs := make([]Allocation, 0, len(contributors))
	for _, s := range contributors {
		rec, hasRecord := records[s.ID]
		var raw float64
		reason := "Default weight - no metrics available"
		if hasRecord {
			raw, reason = e.score(rec)
		}
		allocs = append(allocs, Allocation{ServerID: s.ID, Pool: pool, RawScore: raw, Reason: reason, hasRecord: hasRecord})
	}

	normalizeToHundred(allocs)
	applyMinimumTraffic(allocs)
	applyPolicyOverrides(allocs, policies)
	renormalizeFixedDynamic(allocs)

	sort.Slice(allocs, func(i, j int) bool { return allocs[i].ServerID < allocs[j].ServerID })
	return allocs
}

// selectContributors keeps enabled, non-manually-removed servers in
// the pool (WeightCalculationService.calculateWeightsForServerGroup's
// candidate filter).
func selectContributors(servers []registry.ServerDescriptor, policies map[string]policy.Config) []registry.ServerDescriptor {
	out := make([]registry.ServerDescriptor, 0, len(servers))
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		if p, ok := policies[s.ID]; ok && p.ManuallyRemoved {
			continue
		}
		out = append(out, s)
	}
	return out
}

// score computes the composite raw score from the five factor-weighted
// sub-scores (WeightCalculationService.calculateServerScore). Success
// rate is scored too, but — matching the original — only feeds the
// human-readable reason, never the composite.
func (e *Engine) score(rec metrics.Record) (float64, string) {
	rt := responseTimeScore(rec.EffectiveLatency())
	errS := errorRateScore(rec.ErrorPct)
	succ := successRateScore(rec.SuccessRatePct)
	to := timeoutScore(rec.TimeoutPct)
	up := uptimeScore(rec.UptimePct)
	deg := degradationScore(rec.DegradationScore)

	raw := e.factors.ResponseTime*rt +
		e.factors.ErrorRate*errS +
		e.factors.TimeoutRate*to +
		e.factors.Uptime*up +
		e.factors.Degradation*deg

	return raw, buildScoreReason(rec.EffectiveLatency(), succ, rt, errS, to, up, deg)
}

func buildScoreReason(effectiveLatency, succ, rt, errS, to, up, deg float64) string {
	return "EWMA:" + formatScore(effectiveLatency) + "ms SR:" + formatScore(succ) +
		" RT:" + formatScore(rt) + " ER:" + formatScore(errS) +
		" TO:" + formatScore(to) + " UP:" + formatScore(up) + " DEG:" + formatScore(deg)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// responseTimeScore is WeightCalculationService.calculateResponseTimeScore,
// a [0,1] score: above 0 and at or below 200ms is excellent, decaying
// linearly in three segments out to effectively zero past 3000ms. A
// non-positive latency is treated as missing and scores 0.
func responseTimeScore(latencyMs float64) float64 {
	if latencyMs <= 0 {
		return 0
	}
	switch {
	case latencyMs <= 200:
		return 1.0
	case latencyMs <= 500:
		return 1.0 - ((latencyMs-200)/300)*0.5
	case latencyMs <= 1000:
		return 0.5 - ((latencyMs-500)/500)*0.4
	default:
		v := 0.1 - ((latencyMs-1000)/2000)*0.1
		if v < 0 {
			return 0
		}
		return v
	}
}

// errorRateScore is calculateErrorRateScore: 0% is perfect, >=10% is zero.
func errorRateScore(errorPct float64) float64 {
	if errorPct <= 0 {
		return 1.0
	}
	if errorPct >= 10 {
		return 0.0
	}
	return 1.0 - errorPct/10.0
}

// successRateScore is calculateSuccessRateScore: feeds the reason text
// only, exactly as the original's buildScoreReason does.
func successRateScore(successPct float64) float64 {
	if successPct >= 100 {
		return 1.0
	}
	if successPct <= 90 {
		return 0.0
	}
	return (successPct - 90.0) / 10.0
}

// timeoutScore is calculateTimeoutScore: 0% is perfect, >=5% is zero.
func timeoutScore(timeoutPct float64) float64 {
	if timeoutPct <= 0 {
		return 1.0
	}
	if timeoutPct >= 5 {
		return 0.0
	}
	return 1.0 - timeoutPct/5.0
}

// uptimeScore is calculateUptimeScore: >=99.5% is perfect, <=90% is zero.
func uptimeScore(uptimePct float64) float64 {
	if uptimePct >= 99.5 {
		return 1.0
	}
	if uptimePct <= 90.0 {
		return 0.0
	}
	return (uptimePct - 90.0) / 9.5
}

// degradationScore is calculateDegradationScore: 0 is perfect, >=500 is
// zero, linear between — the inverse of the raw degradation score so a
// higher degradation always pulls the composite down.
func degradationScore(degradation float64) float64 {
	if degradation <= 0 {
		return 1.0
	}
	if degradation >= 500 {
		return 0.0
	}
	return 1.0 - degradation/500.0
}

// normalizeToHundred converts raw scores into a weight distribution
// summing to 100 among the contributors that actually reported metrics
// (WeightCalculationService.normalizeAndAssignWeights), clamping each
// to [1,100] and forcing any raw score below healthFloor to zero.
// Contributors with no record at all bypass scoring entirely and take
// DefaultWeight directly, matching assignDefaultWeightsForServers.
func normalizeToHundred(allocs []Allocation) {
	scored := make([]int, 0, len(allocs))
	var sum float64
	for i := range allocs {
		if !allocs[i].hasRecord {
			allocs[i].CalculatedWeight = DefaultWeight
			continue
		}
		scored = append(scored, i)
		sum += allocs[i].RawScore
	}
	if len(scored) == 0 {
		return
	}

	if sum <= 0 {
		for _, i := range scored {
			allocs[i].CalculatedWeight = DefaultWeight
			allocs[i].Reason = "Default weight - all servers unhealthy"
		}
		return
	}

	for _, i := range scored {
		if allocs[i].RawScore < healthFloor {
			allocs[i].CalculatedWeight = 0
			continue
		}
		w := math.Round(allocs[i].RawScore / sum * float64(MaxWeight))
		if w < 1 {
			w = 1
		}
		if w > MaxWeight {
			w = MaxWeight
		}
		allocs[i].CalculatedWeight = int(w)
	}
}

// applyMinimumTraffic is the emergency fallback: fires only when the
// whole pool has no active allocation, and then bumps only the single
// highest-scoring contributor to MinTrafficWeight
// (WeightCalculationService.ensureMinimumTraffic). Any other zero
// stays zero.
func applyMinimumTraffic(allocs []Allocation) {
	for _, a := range allocs {
		if a.CalculatedWeight > 0 {
			return
		}
	}
	if len(allocs) == 0 {
		return
	}

	best := 0
	for i := range allocs {
		if allocs[i].RawScore > allocs[best].RawScore {
			best = i
		}
	}
	allocs[best].CalculatedWeight = MinTrafficWeight
	allocs[best].Reason = "Emergency fallback - no healthy servers"
}

// applyPolicyOverrides resolves each allocation's effective weight via
// policy.Config.EffectiveWeight and records whether it is fixed.
func applyPolicyOverrides(allocs []Allocation, policies map[string]policy.Config) {
	for i := range allocs {
		p, ok := policies[allocs[i].ServerID]
		if !ok {
			allocs[i].EffectiveWeight = allocs[i].CalculatedWeight
			continue
		}
		allocs[i].Fixed = p.IsFixed()
		allocs[i].EffectiveWeight = p.EffectiveWeight(allocs[i].CalculatedWeight)
	}
}

// renormalizeFixedDynamic implements normalizeWeightsToTotal's three
// cases so a pool's effective weights always sum to exactly 100:
// only-fixed (rescale the fixed weights themselves if they don't
// already sum to 100), fixed >= target (zero the dynamic partition and
// still rescale fixed to 100), and the normal mixed case (dynamic gets
// the 100-fixedSum budget, split proportionally).
func renormalizeFixedDynamic(allocs []Allocation) {
	var fixedSum, dynamicSum float64
	fixedIdx := make([]int, 0, len(allocs))
	dynamicIdx := make([]int, 0, len(allocs))
	for i, a := range allocs {
		if a.Fixed {
			fixedSum += float64(a.EffectiveWeight)
			fixedIdx = append(fixedIdx, i)
		} else {
			dynamicSum += float64(a.EffectiveWeight)
			dynamicIdx = append(dynamicIdx, i)
		}
	}

	if len(dynamicIdx) == 0 {
		// only-fixed case: rescale fixed weights to sum to exactly 100
		// unless they already do (normalizeWeightsToTotal's first branch).
		if fixedSum != MaxWeight {
			rescaleToTarget(allocs, fixedIdx, MaxWeight)
		}
		return
	}

	if fixedSum >= MaxWeight {
		// fixed >= target case: dynamic servers get nothing this cycle,
		// and fixed weights still get proportionally rescaled to 100.
		for _, idx := range dynamicIdx {
			allocs[idx].EffectiveWeight = 0
		}
		rescaleToTarget(allocs, fixedIdx, MaxWeight)
		return
	}

	remaining := int(math.Round(float64(MaxWeight) - fixedSum))

	shares := make([]float64, 0, len(dynamicIdx))
	for _, idx := range dynamicIdx {
		if dynamicSum > 0 {
			shares = append(shares, float64(allocs[idx].EffectiveWeight))
		} else {
			shares = append(shares, 1) // no dynamic signal: split remaining evenly
		}
	}

	rescaled := largestRemainderRound(shares, remaining)
	for i, idx := range dynamicIdx {
		allocs[idx].EffectiveWeight = rescaled[i]
	}
}

// rescaleToTarget proportionally rescales the EffectiveWeight of the
// allocations at idx so they sum to exactly target
// (WeightCalculationService.normalizeProportionally): if their current
// total is zero, target is split evenly with the remainder spread
// across the first allocations; otherwise each weight but the last is
// max(1, round(w*target/current)), and the last absorbs whatever
// residual rounding left over so the sum is exact.
func rescaleToTarget(allocs []Allocation, idx []int, target int) {
	if len(idx) == 0 {
		return
	}

	current := 0
	for _, i := range idx {
		current += allocs[i].EffectiveWeight
	}

	if current == 0 {
		per := target / len(idx)
		remainder := target % len(idx)
		for i, a := range idx {
			w := per
			if i < remainder {
				w++
			}
			allocs[a].EffectiveWeight = w
		}
		return
	}

	assigned := 0
	for i, a := range idx {
		if i == len(idx)-1 {
			final := target - assigned
			if final < 1 {
				final = 1
			}
			allocs[a].EffectiveWeight = final
			continue
		}
		w := int(math.Round(float64(allocs[a].EffectiveWeight) * float64(target) / float64(current)))
		if w < 1 {
			w = 1
		}
		allocs[a].EffectiveWeight = w
		assigned += w
	}
}

// largestRemainderRound distributes total across shares proportionally
// as integers whose sum is exactly total, using the largest-remainder
// (Hare quota) method so independent per-item rounding can never leave
// the pool's weights summing to anything other than total.
func largestRemainderRound(shares []float64, total int) []int {
	out := make([]int, len(shares))
	if total <= 0 || len(shares) == 0 {
		return out
	}

	var sum float64
	for _, s := range shares {
		sum += s
	}
	if sum <= 0 {
		return out
	}

	type remainder struct {
		idx int
		rem float64
	}
	remainders := make([]remainder, len(shares))

	floorSum := 0
	for i, s := range shares {
		exact := s / sum * float64(total)
		floor := math.Floor(exact)
		out[i] = int(floor)
		remainders[i] = remainder{idx: i, rem: exact - floor}
		floorSum += int(floor)
	}

	sort.Slice(remainders, func(i, j int) bool { return remainders[i].rem > remainders[j].rem })

	left := total - floorSum
	for i := 0; i < left && i < len(remainders); i++ {
		out[remainders[i].idx]++
	}
	return out
}
