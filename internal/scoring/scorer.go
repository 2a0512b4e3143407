// Package scoring derives asset status, availability and dispatch priority
// from the current asset state.
package scoring

import (
	"math"
	"sort"
	"time"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

const (
	maxInactivityFactor = 3.0
	needsFuelCap        = 50.0
)

type Scorer struct {
	cfg config.ScoringConfig
	now func() time.Time
}

// Evaluation is the scored view of one asset.
type Evaluation struct {
	AssetID           string           `json:"asset_id"`
	Category          data.Category    `json:"category"`
	Status            data.AssetStatus `json:"status"`
	DaysInactive      int              `json:"days_inactive"`
	RevenuePotential  float64          `json:"revenue_potential"`
	Priority          float64          `json:"priority"`
	AvailabilityScore float64          `json:"availability_score"`
}

// FleetSummary aggregates evaluations over the whole fleet.
type FleetSummary struct {
	TotalAssets         int                      `json:"total_assets"`
	ByStatus            map[data.AssetStatus]int `json:"by_status"`
	ByCategory          map[data.Category]int    `json:"by_category"`
	AverageAvailability float64                  `json:"average_availability"`
	IdleRevenueAtRisk   float64                  `json:"idle_revenue_at_risk"`
}

// NewScorer returns a scorer using clock for "now"; a nil clock means time.Now.
func NewScorer(cfg config.ScoringConfig, clock func() time.Time) *Scorer {
	if clock == nil {
		clock = time.Now
	}
	return &Scorer{cfg: cfg, now: clock}
}

// Status applies the status ladder: needs_fuel, active, available, idle.
func (s *Scorer) Status(a data.Asset) data.AssetStatus {
	if a.FuelLevel < s.cfg.FuelThreshold {
		return data.StatusNeedsFuel
	}
	recent := s.recentlyUpdated(a)
	if a.OperatingHours > 0 && recent {
		return data.StatusActive
	}
	if recent {
		return data.StatusAvailable
	}
	return data.StatusIdle
}

func (s *Scorer) recentlyUpdated(a data.Asset) bool {
	if a.LastUpdate.IsZero() {
		return false
	}
	return s.now().Sub(a.LastUpdate) <= s.cfg.RecentWindow
}

// DaysInactive is the number of whole days since the last update. Unknown or
// future timestamps count as zero.
func (s *Scorer) DaysInactive(a data.Asset) int {
	if a.LastUpdate.IsZero() {
		return 0
	}
	d := s.now().Sub(a.LastUpdate)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// Multiplier returns the configured category multiplier, 1.0 when unset.
func (s *Scorer) Multiplier(c data.Category) float64 {
	if m, ok := s.cfg.CategoryMultipliers[string(c)]; ok {
		return m
	}
	return 1.0
}

// RevenuePotential is the asset's own billing rate, or the category default.
func (s *Scorer) RevenuePotential(a data.Asset) float64 {
	if a.BillingRate > 0 {
		return a.BillingRate
	}
	if r, ok := s.cfg.CategoryRates[string(a.Category)]; ok {
		return r
	}
	return s.cfg.CategoryRates[string(data.CategoryOther)]
}

// Priority is revenue_potential × category_multiplier × min(3, days_inactive/7).
func (s *Scorer) Priority(a data.Asset) float64 {
	factor := math.Min(maxInactivityFactor, float64(s.DaysInactive(a))/7)
	return round(s.RevenuePotential(a)*s.Multiplier(a.Category)*factor, 2)
}

// Availability blends fuel, spare capacity and maintenance state into 0..100.
func (s *Scorer) Availability(a data.Asset) float64 {
	wf, wu, wm := s.cfg.FuelWeight, s.cfg.UtilizationWeight, s.cfg.MaintenanceWeight
	total := wf + wu + wm
	if total <= 0 {
		return 0
	}
	maint := 100.0
	if a.MaintenanceDue {
		maint = 0
	}
	score := (clamp(a.FuelLevel)*wf + (100-clamp(a.Utilization))*wu + maint*wm) / total
	if s.Status(a) == data.StatusNeedsFuel {
		score = math.Min(score, needsFuelCap)
	}
	return round(score, 1)
}

func (s *Scorer) Evaluate(a data.Asset) Evaluation {
	return Evaluation{
		AssetID:           a.ID,
		Category:          a.Category,
		Status:            s.Status(a),
		DaysInactive:      s.DaysInactive(a),
		RevenuePotential:  s.RevenuePotential(a),
		Priority:          s.Priority(a),
		AvailabilityScore: s.Availability(a),
	}
}

// EvaluateAll scores every asset, ordered by asset id.
func (s *Scorer) EvaluateAll(assets []data.Asset) []Evaluation {
	out := make([]Evaluation, 0, len(assets))
	for _, a := range assets {
		out = append(out, s.Evaluate(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (s *Scorer) Summarize(assets []data.Asset) FleetSummary {
	sum := FleetSummary{
		TotalAssets: len(assets),
		ByStatus:    make(map[data.AssetStatus]int),
		ByCategory:  make(map[data.Category]int),
	}
	if len(assets) == 0 {
		return sum
	}
	var availability float64
	for _, a := range assets {
		ev := s.Evaluate(a)
		sum.ByStatus[ev.Status]++
		sum.ByCategory[a.Category]++
		availability += ev.AvailabilityScore
		if ev.Status == data.StatusIdle {
			sum.IdleRevenueAtRisk += ev.RevenuePotential
		}
	}
	sum.AverageAvailability = round(availability/float64(len(assets)), 1)
	sum.IdleRevenueAtRisk = round(sum.IdleRevenueAtRisk, 2)
	return sum
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
