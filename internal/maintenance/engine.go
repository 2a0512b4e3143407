// Package maintenance estimates component wear and service timing from the
// engine hour meter.
package maintenance

import (
	"fmt"
	"math"
	"sort"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Component is one wear item with its service interval in engine hours.
type Component struct {
	Name          string
	IntervalHours float64
	Weight        float64
}

type ComponentRisk struct {
	Name               string  `json:"name"`
	FailureProbability float64 `json:"failure_probability"`
	HoursInCycle       float64 `json:"hours_in_cycle"`
	HoursToService     float64 `json:"hours_to_service"`
}

// Prediction is recomputed on every request; it is never stored.
type Prediction struct {
	AssetID         string          `json:"asset_id"`
	Category        data.Category   `json:"category"`
	OperatingHours  float64         `json:"operating_hours"`
	Components      []ComponentRisk `json:"components"`
	HealthScore     float64         `json:"health_score"`
	HoursToService  float64         `json:"hours_to_service"`
	NextComponent   string          `json:"next_component"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	Recommendations []string        `json:"recommendations,omitempty"`

	// Notes flags inconsistent input that the prediction worked around.
	Notes []string `json:"notes,omitempty"`
}

var defaultComponents = []Component{
	{"engine", 500, 0.9},
	{"hydraulics", 1000, 0.8},
	{"transmission", 2000, 0.7},
	{"brakes", 750, 0.6},
	{"electrical", 1500, 0.5},
}

var trackedComponents = append(append([]Component{}, defaultComponents...),
	Component{"undercarriage", 2000, 0.8})

// DefaultTables maps each category to its wear table.
var DefaultTables = map[data.Category][]Component{
	data.CategoryExcavator: trackedComponents,
	data.CategoryDozer:     trackedComponents,
	data.CategoryLoader:    trackedComponents,
	data.CategoryTruck: {
		{"engine", 400, 0.9},
		{"transmission", 1500, 0.7},
		{"brakes", 500, 0.8},
		{"tires", 600, 0.6},
		{"electrical", 1500, 0.5},
	},
	data.CategoryCompactor: {
		{"engine", 500, 0.9},
		{"hydraulics", 1000, 0.8},
		{"vibration_system", 800, 0.7},
		{"electrical", 1500, 0.5},
	},
	data.CategoryGenerator: {
		{"engine", 250, 1.0},
		{"cooling", 500, 0.6},
		{"electrical", 1000, 0.7},
	},
	data.CategoryTrailer: {
		{"brakes", 750, 0.8},
		{"tires", 600, 0.6},
		{"electrical", 2000, 0.4},
	},
	data.CategoryOther: defaultComponents,
}

type Engine struct {
	maxProbability float64
	tables         map[data.Category][]Component
}

func NewEngine(cfg config.MaintenanceConfig) *Engine {
	maxP := cfg.MaxFailureProbability
	if maxP <= 0 || maxP > 100 {
		maxP = 95
	}
	tables := make(map[data.Category][]Component, len(DefaultTables)+len(cfg.Components))
	for c, t := range DefaultTables {
		tables[c] = t
	}
	for name, comps := range cfg.Components {
		table := make([]Component, 0, len(comps))
		for _, c := range comps {
			table = append(table, Component{Name: c.Name, IntervalHours: c.IntervalHours, Weight: c.Weight})
		}
		tables[data.NormalizeCategory(name)] = table
	}
	return &Engine{maxProbability: maxP, tables: tables}
}

func (e *Engine) table(c data.Category) []Component {
	if t, ok := e.tables[c]; ok {
		return t
	}
	return e.tables[data.CategoryOther]
}

// Predict computes the component risk table and health score for an asset.
func (e *Engine) Predict(a data.Asset) Prediction {
	p := Prediction{
		AssetID:        a.ID,
		Category:       a.Category,
		OperatingHours: a.OperatingHours,
		HoursToService: math.Inf(1),
	}

	since := a.OperatingHours
	switch {
	case a.LastServiceHours > a.OperatingHours:
		p.Notes = append(p.Notes, fmt.Sprintf(
			"last_service_hours %.0f exceeds operating_hours %.0f; cycle measured from zero hours",
			a.LastServiceHours, a.OperatingHours))
	case a.LastServiceHours > 0:
		since = a.OperatingHours - a.LastServiceHours
	}

	var total float64
	for _, c := range e.table(a.Category) {
		cycle := math.Mod(since, c.IntervalHours)
		ratio := cycle / c.IntervalHours
		prob := math.Min(e.maxProbability, 100*c.Weight*ratio*ratio)
		risk := ComponentRisk{
			Name:               c.Name,
			FailureProbability: round1(prob),
			HoursInCycle:       round1(cycle),
			HoursToService:     round1(c.IntervalHours - cycle),
		}
		p.Components = append(p.Components, risk)
		total += risk.FailureProbability
		if risk.HoursToService < p.HoursToService {
			p.HoursToService = risk.HoursToService
			p.NextComponent = c.Name
		}
	}
	if len(p.Components) == 0 {
		p.HoursToService = 0
		p.HealthScore = 100
	} else {
		p.HealthScore = round1(100 - total/float64(len(p.Components)))
	}

	p.RiskLevel = riskFor(p.HealthScore)
	if a.MaintenanceDue && (p.RiskLevel == RiskLow || p.RiskLevel == RiskMedium) {
		p.RiskLevel = RiskHigh
	}
	p.Recommendations = recommendations(p, a.MaintenanceDue)
	return p
}

// PredictAll returns predictions ordered worst health first.
func (e *Engine) PredictAll(assets []data.Asset) []Prediction {
	out := make([]Prediction, 0, len(assets))
	for _, a := range assets {
		out = append(out, e.Predict(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore < out[j].HealthScore
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

func riskFor(health float64) RiskLevel {
	switch {
	case health >= 80:
		return RiskLow
	case health >= 60:
		return RiskMedium
	case health >= 40:
		return RiskHigh
	}
	return RiskCritical
}

func recommendations(p Prediction, due bool) []string {
	var recs []string
	if due {
		recs = append(recs, "Scheduled maintenance is due")
	}
	for _, c := range p.Components {
		if c.FailureProbability >= 50 {
			recs = append(recs, fmt.Sprintf("Inspect %s within %.0f hours", c.Name, c.HoursToService))
		}
	}
	if p.RiskLevel == RiskCritical {
		recs = append(recs, "Hold from dispatch until serviced")
	}
	return recs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
