package weight_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intouch-cp/lb-controlplane/metrics"
	"github.com/intouch-cp/lb-controlplane/policy"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

func threeServers() []registry.ServerDescriptor {
	return []registry.ServerDescriptor{
		{ID: "s1", Host: "10.0.0.1", Pool: registry.Incoming, Enabled: true},
		{ID: "s2", Host: "10.0.0.2", Pool: registry.Incoming, Enabled: true},
		{ID: "s3", Host: "10.0.0.3", Pool: registry.Incoming, Enabled: true},
	}
}

func fresh(responseMs, errorPct, timeoutPct, uptimePct float64) metrics.Record {
	return metrics.Record{
		Timestamp:      time.Now(),
		ResponseTimeMs: responseMs,
		ErrorPct:       errorPct,
		TimeoutPct:     timeoutPct,
		UptimePct:      uptimePct,
		EWMALatency:    responseMs,
	}
}

func TestComputeSumsToHundred(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	records := map[string]metrics.Record{
		"s1": fresh(20, 0, 0, 100),
		"s2": fresh(200, 2, 1, 99),
		"s3": fresh(800, 10, 5, 90),
	}

	allocs := engine.Compute(registry.Incoming, servers, records, map[string]policy.Config{})
	require.Len(t, allocs, 3)

	sum := 0
	for _, a := range allocs {
		sum += a.EffectiveWeight
		assert.GreaterOrEqual(t, a.EffectiveWeight, 0)
	}
	assert.Equal(t, 100, sum)
}

func TestComputeFavorsHealthierServer(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	records := map[string]metrics.Record{
		"s1": fresh(10, 0, 0, 100),
		"s2": fresh(500, 5, 5, 95),
		"s3": fresh(1500, 20, 10, 70),
	}

	allocs := engine.Compute(registry.Incoming, servers, records, map[string]policy.Config{})
	byID := allocsByID(allocs)

	assert.Greater(t, byID["s1"].EffectiveWeight, byID["s2"].EffectiveWeight)
	assert.Greater(t, byID["s2"].EffectiveWeight, byID["s3"].EffectiveWeight)
}

func TestComputeContributorWithNoRecordGetsDefaultWeight(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	// s3 never reported, which must take DefaultWeight directly rather
	// than being scored at the floor.
	records := map[string]metrics.Record{
		"s1": fresh(10, 0, 0, 100),
		"s2": fresh(10, 0, 0, 100),
	}

	allocs := engine.Compute(registry.Incoming, servers, records, map[string]policy.Config{})
	byID := allocsByID(allocs)

	assert.Contains(t, byID["s3"].Reason, "Default weight")
	assert.Greater(t, byID["s3"].EffectiveWeight, 0)

	sum := 0
	for _, a := range allocs {
		sum += a.EffectiveWeight
	}
	assert.Equal(t, 100, sum)
}

func almostUnhealthy(uptimePct float64) metrics.Record {
	return metrics.Record{
		Timestamp:      time.Now(),
		ResponseTimeMs: 5000,
		ErrorPct:       10,
		TimeoutPct:     5,
		UptimePct:      uptimePct,
		EWMALatency:    5000,
		// min(500, 5000) + 20*10 + 20*5 + 2*(100-uptime), as ingest derives it
		DegradationScore: 500 + 20*10 + 20*5 + 2*(100-uptimePct),
	}
}

// TestComputeForcesZeroWeightBelowHealthFloor is spec S3: a contributor
// scoring below the 0.1 health floor is forced to 0 even though its
// share of the pool total would otherwise round to a positive weight,
// and the remaining healthy contributors share the full 100.
func TestComputeForcesZeroWeightBelowHealthFloor(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	records := map[string]metrics.Record{
		"s1": fresh(10, 0, 0, 100),
		"s2": fresh(10, 0, 0, 100),
		"s3": almostUnhealthy(93.8), // raw ~= 0.08, below the 0.1 floor
	}
	require.Less(t, recordRawScore(t, engine, records["s3"]), 0.1)

	allocs := engine.Compute(registry.Incoming, servers, records, map[string]policy.Config{})
	byID := allocsByID(allocs)

	assert.Equal(t, 0, byID["s3"].EffectiveWeight)
	assert.Equal(t, 100, byID["s1"].EffectiveWeight+byID["s2"].EffectiveWeight)
}

// TestComputeEmergencyFallbackPicksSingleHighestScorer is spec Step 4 /
// B2 / B5 / P1: when every contributor in the pool is scored (not
// default-weighted) but all end up at zero weight, exactly one — the
// highest raw score — is bumped to MinTrafficWeight with the emergency
// reason, and every other contributor stays at zero.
func TestComputeEmergencyFallbackPicksSingleHighestScorer(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := []registry.ServerDescriptor{
		{ID: "s1", Host: "10.0.0.1", Pool: registry.Incoming, Enabled: true},
		{ID: "s2", Host: "10.0.0.2", Pool: registry.Incoming, Enabled: true},
	}
	records := map[string]metrics.Record{
		"s1": almostUnhealthy(91), // raw ~= 0.021, below the floor
		"s2": almostUnhealthy(91),
	}

	allocs := engine.Compute(registry.Incoming, servers, records, map[string]policy.Config{})

	active := 0
	var emergencyReason string
	for _, a := range allocs {
		if a.EffectiveWeight > 0 {
			active++
			emergencyReason = a.Reason
		}
	}
	assert.Equal(t, 1, active)
	assert.Contains(t, emergencyReason, "Emergency")

	sum := 0
	for _, a := range allocs {
		sum += a.EffectiveWeight
	}
	assert.Equal(t, 100, sum)
}

func recordRawScore(t *testing.T, engine *weight.Engine, rec metrics.Record) float64 {
	t.Helper()
	servers := []registry.ServerDescriptor{{ID: "probe", Host: "x", Pool: registry.Incoming, Enabled: true}}
	allocs := engine.Compute(registry.Incoming, servers, map[string]metrics.Record{"probe": rec}, map[string]policy.Config{})
	require.Len(t, allocs, 1)
	return allocs[0].RawScore
}

func TestComputeExcludesManuallyRemovedServers(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	records := map[string]metrics.Record{
		"s1": fresh(10, 0, 0, 100),
		"s2": fresh(10, 0, 0, 100),
		"s3": fresh(10, 0, 0, 100),
	}
	policies := map[string]policy.Config{
		"s3": {ServerID: "s3", ManuallyRemoved: true},
	}

	allocs := engine.Compute(registry.Incoming, servers, records, policies)

	for _, a := range allocs {
		assert.NotEqual(t, "s3", a.ServerID)
	}
}

func TestComputeHonorsFixedWeightAndRenormalizesDynamic(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := threeServers()
	records := map[string]metrics.Record{
		"s1": fresh(10, 0, 0, 100),
		"s2": fresh(10, 0, 0, 100),
		"s3": fresh(10, 0, 0, 100),
	}
	fixed := 40
	policies := map[string]policy.Config{
		"s1": {ServerID: "s1", FixedWeight: &fixed, DynamicWeightOn: false},
	}

	allocs := engine.Compute(registry.Incoming, servers, records, policies)
	byID := allocsByID(allocs)

	assert.Equal(t, 40, byID["s1"].EffectiveWeight)
	assert.True(t, byID["s1"].Fixed)

	sum := 0
	for _, a := range allocs {
		sum += a.EffectiveWeight
	}
	assert.Equal(t, 100, sum)
}

func TestComputeScoresWorkedExampleS1(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	servers := []registry.ServerDescriptor{
		{ID: "s1", Host: "10.0.0.1", Pool: registry.Outgoing, Enabled: true},
	}
	records := map[string]metrics.Record{
		"s1": {
			Timestamp:        time.Now(),
			ResponseTimeMs:   150,
			ErrorPct:         0.5,
			SuccessRatePct:   99.5,
			TimeoutPct:       0.1,
			UptimePct:        99.9,
			EWMALatency:      150,
			DegradationScore: 150 + 20*0.5 + 20*0.1 + 2*(100-99.9),
		},
	}

	allocs := engine.Compute(registry.Outgoing, servers, records, map[string]policy.Config{})
	require.Len(t, allocs, 1)
	assert.InDelta(t, 0.937, allocs[0].RawScore, 0.01)
	assert.Equal(t, 100, allocs[0].EffectiveWeight)
}

func TestComputeReturnsNilForEmptyPool(t *testing.T) {
	engine := weight.New(weight.DefaultFactors())
	allocs := engine.Compute(registry.Incoming, nil, map[string]metrics.Record{}, map[string]policy.Config{})
	assert.Nil(t, allocs)
}

func allocsByID(allocs []weight.Allocation) map[string]weight.Allocation {
	out := make(map[string]weight.Allocation, len(allocs))
	for _, a := range allocs {
		out[a.ServerID] = a
	}
	return out
}
