// Package matching ranks catalog items against a user's stated preferences.
// Scoring is read-only over a snapshot and fans out across candidates.
package matching

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"campusswap/apperr"
	"campusswap/catalog"

	"golang.org/x/sync/errgroup"
)

// Weights are the maximum contribution of each component; they sum to 100.
type Weights struct {
	Category  float64
	Points    float64
	Condition float64
	Location  float64
	Freshness float64
}

func DefaultWeights() Weights {
	return Weights{Category: 35, Points: 25, Condition: 20, Location: 15, Freshness: 5}
}

func (w Weights) total() float64 {
	return w.Category + w.Points + w.Condition + w.Location + w.Freshness
}

// Preferences describe what a user is looking for.
type Preferences struct {
	UserID     string
	Categories []string
	MinPoints  int64
	MaxPoints  int64
	Conditions []catalog.Condition
	Location   *catalog.Location
	RadiusKm   float64
	MinScore   float64
	Limit      int
}

// Validate rejects negative or inverted bands and out-of-range knobs.
func (p Preferences) Validate() error {
	if p.MinPoints < 0 || p.MaxPoints < 0 {
		return apperr.Validationf("matching: points band must not be negative")
	}
	if p.MaxPoints > 0 && p.MinPoints > p.MaxPoints {
		return apperr.Validationf("matching: min points above max points")
	}
	if p.RadiusKm < 0 || p.MinScore < 0 || p.MinScore > 100 || p.Limit < 0 {
		return apperr.Validationf("matching: invalid radius, min score or limit")
	}
	for _, c := range p.Conditions {
		if !c.Valid() {
			return apperr.Validationf("matching: invalid condition %d", uint8(c))
		}
	}
	return nil
}

// Result is one ranked candidate.
type Result struct {
	Item    catalog.Item `json:"item"`
	Score   float64      `json:"score"`
	Reasons []string     `json:"reasons"`
}

type Engine struct {
	taxonomy        *catalog.Taxonomy
	weights         Weights
	falloffFraction float64
	defaultRadiusKm float64
	freshnessWindow time.Duration
	now             func() time.Time
}

func NewEngine(taxonomy *catalog.Taxonomy) *Engine {
	if taxonomy == nil {
		taxonomy = catalog.DefaultTaxonomy()
	}
	return &Engine{
		taxonomy:        taxonomy,
		weights:         DefaultWeights(),
		falloffFraction: 0.5,
		defaultRadiusKm: 5,
		freshnessWindow: 30 * 24 * time.Hour,
		now:             time.Now,
	}
}

func (e *Engine) WithClock(fn func() time.Time) *Engine {
	if fn != nil {
		e.now = fn
	}
	return e
}

func (e *Engine) WithWeights(w Weights) *Engine {
	if w.total() > 0 {
		e.weights = w
	}
	return e
}

// Match scores every eligible candidate and returns them best first.
func (e *Engine) Match(ctx context.Context, candidates []catalog.Item, prefs Preferences) ([]Result, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	scored := make([]*Result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := candidates[i]
			if item.Status != catalog.StatusActive || (prefs.UserID != "" && item.OwnerID == prefs.UserID) {
				return nil
			}
			r := e.score(item, prefs, now)
			scored[i] = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}

	out := make([]Result, 0, len(candidates))
	for _, r := range scored {
		if r == nil || r.Score < prefs.MinScore {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Item.ListedAt.Equal(b.Item.ListedAt) {
			return a.Item.ListedAt.After(b.Item.ListedAt)
		}
		return a.Item.ID < b.Item.ID
	})
	if prefs.Limit > 0 && len(out) > prefs.Limit {
		out = out[:prefs.Limit]
	}
	return out, nil
}

func (e *Engine) score(item catalog.Item, prefs Preferences, now time.Time) Result {
	var reasons []string

	cat, why := e.categoryScore(item.Category, prefs.Categories)
	reasons = append(reasons, why)
	pts, why := e.pointsScore(item.Points, prefs.MinPoints, prefs.MaxPoints)
	reasons = append(reasons, why)
	cond, why := conditionScore(item.Condition, prefs.Conditions)
	reasons = append(reasons, why)

	if cat == 0 && pts == 0 && cond == 0 {
		return Result{Item: item, Score: 0, Reasons: []string{"no overlap with preferences"}}
	}

	loc, why := e.locationScore(item.Location, prefs)
	reasons = append(reasons, why)
	fresh := e.freshnessScore(item.ListedAt, now)

	w := e.weights
	raw := w.Category*cat + w.Points*pts + w.Condition*cond + w.Location*loc + w.Freshness*fresh
	score := 100 * raw / w.total()
	score = math.Round(score*100) / 100
	score = math.Max(0, math.Min(100, score))
	return Result{Item: item, Score: score, Reasons: reasons}
}

func (e *Engine) categoryScore(category string, wanted []string) (float64, string) {
	if len(wanted) == 0 {
		return 1, "category: any"
	}
	best, reason := 0.0, "category: no match"
	for _, w := range wanted {
		switch {
		case equalFoldTrim(w, category) || e.taxonomy.IsAncestor(w, category):
			return 1, fmt.Sprintf("category: matches %s", w)
		case e.taxonomy.Siblings(w, category):
			best, reason = 0.5, fmt.Sprintf("category: related to %s", w)
		case e.taxonomy.IsAncestor(category, w) && best < 0.5:
			best, reason = 0.5, fmt.Sprintf("category: broader than %s", w)
		}
	}
	return best, reason
}

func (e *Engine) pointsScore(points, lo, hi int64) (float64, string) {
	if lo == 0 && hi == 0 {
		return 1, "points: any"
	}
	if hi == 0 {
		hi = math.MaxInt64
	}
	if points >= lo && points <= hi {
		return 1, "points: within band"
	}
	width := float64(hi - lo)
	if hi == math.MaxInt64 || width <= 0 {
		width = float64(lo)
	}
	if width <= 0 {
		width = 1
	}
	falloff := e.falloffFraction * width
	var dist float64
	if points < lo {
		dist = float64(lo - points)
	} else {
		dist = float64(points - hi)
	}
	s := 1 - dist/falloff
	if s <= 0 {
		return 0, "points: far outside band"
	}
	return s, "points: near band"
}

func conditionScore(c catalog.Condition, allowed []catalog.Condition) (float64, string) {
	if len(allowed) == 0 {
		return 1, "condition: any"
	}
	for _, a := range allowed {
		if a == c {
			return 1, "condition: acceptable"
		}
	}
	return 0, "condition: not acceptable"
}

func (e *Engine) locationScore(loc *catalog.Location, prefs Preferences) (float64, string) {
	if prefs.Location == nil {
		return 1, "location: any"
	}
	if loc == nil {
		return 0, "location: unknown"
	}
	radius := prefs.RadiusKm
	if radius == 0 {
		radius = e.defaultRadiusKm
	}
	d := HaversineKm(*prefs.Location, *loc)
	if d >= radius {
		return 0, fmt.Sprintf("location: %.1f km, outside radius", d)
	}
	return 1 - d/radius, fmt.Sprintf("location: %.1f km away", d)
}

func (e *Engine) freshnessScore(listedAt, now time.Time) float64 {
	age := now.Sub(listedAt)
	if age <= 0 {
		return 1
	}
	if age >= e.freshnessWindow {
		return 0
	}
	return 1 - float64(age)/float64(e.freshnessWindow)
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b catalog.Location) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
