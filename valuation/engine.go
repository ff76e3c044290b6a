// Package valuation turns item attributes and market signals into a points
// estimate. The engine is pure: identical inputs always produce identical
// results.
package valuation

import (
	"math"

	"campusswap/apperr"
	"campusswap/catalog"
)

// Attributes are the item properties that influence its value.
type Attributes struct {
	Category  string            `json:"category"`
	Condition catalog.Condition `json:"condition"`
	AgeMonths float64           `json:"age_months"`
}

// MarketSignals summarise recent activity in the item's category.
type MarketSignals struct {
	RecentSales    int `json:"recent_sales"`
	ActiveListings int `json:"active_listings"`
}

func (m MarketSignals) empty() bool { return m.RecentSales == 0 && m.ActiveListings == 0 }

// Factors is the multiplicative breakdown behind a result.
type Factors struct {
	Base         int64   `json:"base"`
	Condition    float64 `json:"condition"`
	Depreciation float64 `json:"depreciation"`
	Demand       float64 `json:"demand"`
	Clamped      bool    `json:"clamped"`
	Fallback     bool    `json:"fallback"`
}

type Result struct {
	Points     int64   `json:"points"`
	Confidence float64 `json:"confidence"`
	Factors    Factors `json:"factors"`
}

// Params tune the curves. Zero fields take the defaults.
type Params struct {
	DepreciationFloor  float64
	DemandMin          float64
	DemandMax          float64
	ConfidenceFloor    float64
	ConfidenceHalfData float64
	FallbackConfidence float64
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		DepreciationFloor:  0.2,
		DemandMin:          0.75,
		DemandMax:          1.35,
		ConfidenceFloor:    0.2,
		ConfidenceHalfData: 5,
		FallbackConfidence: 0.1,
	}
}

var conditionMultipliers = map[catalog.Condition]float64{
	catalog.ConditionNew:     1.0,
	catalog.ConditionLikeNew: 0.85,
	catalog.ConditionGood:    0.7,
	catalog.ConditionFair:    0.5,
	catalog.ConditionPoor:    0.3,
}

// ConditionMultiplier exposes the multiplier applied for a condition.
func ConditionMultiplier(c catalog.Condition) float64 {
	return conditionMultipliers[c]
}

type Engine struct {
	taxonomy *catalog.Taxonomy
	params   Params
}

func NewEngine(taxonomy *catalog.Taxonomy) *Engine {
	if taxonomy == nil {
		taxonomy = catalog.DefaultTaxonomy()
	}
	return &Engine{taxonomy: taxonomy, params: DefaultParams()}
}

// WithParams overrides the tuning; zero fields keep their current value.
func (e *Engine) WithParams(p Params) *Engine {
	merged := e.params
	if p.DepreciationFloor > 0 {
		merged.DepreciationFloor = p.DepreciationFloor
	}
	if p.DemandMin > 0 {
		merged.DemandMin = p.DemandMin
	}
	if p.DemandMax > 0 {
		merged.DemandMax = p.DemandMax
	}
	if p.ConfidenceFloor > 0 {
		merged.ConfidenceFloor = p.ConfidenceFloor
	}
	if p.ConfidenceHalfData > 0 {
		merged.ConfidenceHalfData = p.ConfidenceHalfData
	}
	if p.FallbackConfidence > 0 {
		merged.FallbackConfidence = p.FallbackConfidence
	}
	e.params = merged
	return e
}

// Valuate estimates the points value of an item. An unrecognised category
// never fails; it yields a low-confidence estimate from the condition alone.
func (e *Engine) Valuate(attrs Attributes, signals MarketSignals) (Result, error) {
	if !attrs.Condition.Valid() {
		return Result{}, apperr.Validationf("valuation: invalid condition %d", uint8(attrs.Condition))
	}
	if signals.RecentSales < 0 || signals.ActiveListings < 0 {
		return Result{}, apperr.Validationf("valuation: market signals must not be negative")
	}
	condition := conditionMultipliers[attrs.Condition]

	cat, ok := e.taxonomy.Lookup(attrs.Category)
	if !ok {
		base := e.taxonomy.FallbackBase()
		return Result{
			Points:     int64(math.Round(float64(base) * condition)),
			Confidence: e.params.FallbackConfidence,
			Factors: Factors{
				Base:         base,
				Condition:    condition,
				Depreciation: 1,
				Demand:       1,
				Fallback:     true,
			},
		}, nil
	}

	dep := e.depreciation(attrs.AgeMonths, cat.DepreciationMonths)
	demand := e.demand(signals)
	raw := math.Round(float64(cat.Base) * condition * dep * demand)

	points := int64(raw)
	clamped := false
	if points < cat.Min {
		points, clamped = cat.Min, true
	}
	if points > cat.Max {
		points, clamped = cat.Max, true
	}

	return Result{
		Points:     points,
		Confidence: e.confidence(signals.RecentSales),
		Factors: Factors{
			Base:         cat.Base,
			Condition:    condition,
			Depreciation: dep,
			Demand:       demand,
			Clamped:      clamped,
		},
	}, nil
}

// depreciation decays toward the floor and never reaches it.
func (e *Engine) depreciation(ageMonths, scale float64) float64 {
	if ageMonths <= 0 || math.IsNaN(ageMonths) {
		return 1
	}
	floor := e.params.DepreciationFloor
	return floor + (1-floor)*math.Exp(-ageMonths/scale)
}

func (e *Engine) demand(s MarketSignals) float64 {
	if s.empty() {
		return 1
	}
	ratio := math.Sqrt(float64(s.RecentSales+1) / float64(s.ActiveListings+1))
	return math.Min(e.params.DemandMax, math.Max(e.params.DemandMin, ratio))
}

func (e *Engine) confidence(sales int) float64 {
	floor := e.params.ConfidenceFloor
	n := float64(sales)
	return floor + (1-floor)*n/(n+e.params.ConfidenceHalfData)
}
