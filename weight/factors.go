package weight

import "github.com/intouch-cp/lb-controlplane/cperrors"

// Factors are the five coefficients the composite raw score blends
// (spec.md §4.4, WeightCalculationService.calculateServerScore /
// WeightFactorsService.java). They must sum to 1.0 within a small
// tolerance.
type Factors struct {
	ResponseTime float64
	ErrorRate    float64
	TimeoutRate  float64
	Uptime       float64
	Degradation  float64
}

const factorSumTolerance = 0.01

// DefaultFactors is the "balanced" preset (spec.md §6 presets table).
func DefaultFactors() Factors {
	return Factors{ResponseTime: 0.25, ErrorRate: 0.25, TimeoutRate: 0.15, Uptime: 0.20, Degradation: 0.15}
}

// Presets are the named factor sets exposed on the admin surface
// (spec.md §6's presets table: balanced, performance, reliability,
// errorAvoidance).
var Presets = map[string]Factors{
	"balanced":        DefaultFactors(),
	"performance":     {ResponseTime: 0.40, ErrorRate: 0.20, TimeoutRate: 0.10, Uptime: 0.15, Degradation: 0.15},
	"reliability":     {ResponseTime: 0.15, ErrorRate: 0.30, TimeoutRate: 0.20, Uptime: 0.30, Degradation: 0.05},
	"errorAvoidance":  {ResponseTime: 0.15, ErrorRate: 0.40, TimeoutRate: 0.25, Uptime: 0.15, Degradation: 0.05},
}

func (f Factors) sum() float64 {
	return f.ResponseTime + f.ErrorRate + f.TimeoutRate + f.Uptime + f.Degradation
}

// Validate enforces the sum-to-1.0 invariant (WeightFactorsService.validateWeightFactors).
func (f Factors) Validate() error {
	s := f.sum()
	if s < 1.0-factorSumTolerance || s > 1.0+factorSumTolerance {
		return cperrors.Validation("weight factors must sum to 1.0 (+/-0.01)")
	}
	return nil
}

// Normalize rescales factors proportionally so they sum to exactly 1.0
// (WeightFactorsService.normalizeWeightFactors). All-zero factors
// normalize to DefaultFactors.
func (f Factors) Normalize() Factors {
	s := f.sum()
	if s == 0 {
		return DefaultFactors()
	}
	return Factors{
		ResponseTime: f.ResponseTime / s,
		ErrorRate:    f.ErrorRate / s,
		TimeoutRate:  f.TimeoutRate / s,
		Uptime:       f.Uptime / s,
		Degradation:  f.Degradation / s,
	}
}
