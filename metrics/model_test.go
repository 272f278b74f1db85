package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateEWMAFirstSampleIsUnsmoothed(t *testing.T) {
	got := calculateEWMA(0, false, 120, 0.3)
	assert.Equal(t, 120.0, got)
}

func TestCalculateEWMABlendsWithPrevious(t *testing.T) {
	got := calculateEWMA(100, true, 200, 0.3)
	assert.InDelta(t, 130.0, got, 0.0001) // 0.3*200 + 0.7*100
}

func TestCalculateDegradationScoreCapsResponseTimeAt500(t *testing.T) {
	got := calculateDegradationScore(2000, 0, 0, 100)
	assert.Equal(t, 500.0, got)
}

func TestCalculateDegradationScorePenalizesErrorsAndTimeouts(t *testing.T) {
	got := calculateDegradationScore(100, 10, 5, 100)
	// 100 + 20*10 + 20*5 + 2*(100-100) = 100 + 200 + 100 + 0
	assert.Equal(t, 400.0, got)
}

func TestCalculateDegradationScorePenalizesLowUptime(t *testing.T) {
	got := calculateDegradationScore(0, 0, 0, 90)
	assert.Equal(t, 20.0, got) // 2*(100-90)
}

func TestEffectiveLatencyFallsBackToResponseTimeWithoutEWMA(t *testing.T) {
	r := Record{ResponseTimeMs: 42}
	assert.Equal(t, 42.0, r.EffectiveLatency())
}

func TestEffectiveLatencyPrefersEWMAWhenPresent(t *testing.T) {
	r := Record{ResponseTimeMs: 42, EWMALatency: 55}
	assert.Equal(t, 55.0, r.EffectiveLatency())
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	fresh := Record{Timestamp: now.Add(-30 * time.Second)}
	stale := Record{Timestamp: now.Add(-5 * time.Minute)}

	assert.False(t, fresh.IsStale(now, 2*time.Minute))
	assert.True(t, stale.IsStale(now, 2*time.Minute))
}
