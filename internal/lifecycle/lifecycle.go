// Package lifecycle values equipment over its service life and adjusts the
// maintenance interval as it ages.
package lifecycle

import (
	"errors"
	"math"
	"time"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

var ErrMissingAcquisition = errors.New("asset has no purchase date or price")

type Stage string

const (
	StageNew       Stage = "new"
	StagePrime     Stage = "prime"
	StageMature    Stage = "mature"
	StageAging     Stage = "aging"
	StageEndOfLife Stage = "end_of_life"
)

const (
	hoursPerYear        = 365.25 * 24
	minIntervalFraction = 0.4
	heavyUtilization    = 80.0
	replaceHealthBelow  = 50.0
)

type Profile struct {
	UsefulLifeYears   float64
	SalvageFraction   float64
	BaseIntervalHours float64
}

var DefaultProfiles = map[data.Category]Profile{
	data.CategoryExcavator: {UsefulLifeYears: 10, SalvageFraction: 0.20, BaseIntervalHours: 500},
	data.CategoryDozer:     {UsefulLifeYears: 12, SalvageFraction: 0.20, BaseIntervalHours: 500},
	data.CategoryLoader:    {UsefulLifeYears: 10, SalvageFraction: 0.15, BaseIntervalHours: 500},
	data.CategoryCompactor: {UsefulLifeYears: 8, SalvageFraction: 0.10, BaseIntervalHours: 400},
	data.CategoryTruck:     {UsefulLifeYears: 8, SalvageFraction: 0.15, BaseIntervalHours: 400},
	data.CategoryGenerator: {UsefulLifeYears: 7, SalvageFraction: 0.10, BaseIntervalHours: 250},
	data.CategoryTrailer:   {UsefulLifeYears: 15, SalvageFraction: 0.10, BaseIntervalHours: 1000},
	data.CategoryOther:     {UsefulLifeYears: 10, SalvageFraction: 0.10, BaseIntervalHours: 500},
}

type Assessment struct {
	AssetID                  string        `json:"asset_id"`
	Category                 data.Category `json:"category"`
	AgeYears                 float64       `json:"age_years"`
	PurchasePrice            float64       `json:"purchase_price"`
	SalvageValue             float64       `json:"salvage_value"`
	AnnualDepreciation       float64       `json:"annual_depreciation"`
	AccumulatedDepreciation  float64       `json:"accumulated_depreciation"`
	BookValue                float64       `json:"book_value"`
	Stage                    Stage         `json:"stage"`
	MaintenanceIntervalHours float64       `json:"maintenance_interval_hours"`
	ReplacementRecommended   bool          `json:"replacement_recommended"`
}

type Engine struct {
	profiles map[data.Category]Profile
	now      func() time.Time
}

// NewEngine starts from DefaultProfiles and applies any configured overrides.
func NewEngine(cfg config.LifecycleConfig, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	profiles := make(map[data.Category]Profile, len(DefaultProfiles)+len(cfg.Profiles))
	for c, p := range DefaultProfiles {
		profiles[c] = p
	}
	for name, p := range cfg.Profiles {
		profiles[data.NormalizeCategory(name)] = Profile{
			UsefulLifeYears:   p.UsefulLifeYears,
			SalvageFraction:   p.SalvageFraction,
			BaseIntervalHours: p.BaseIntervalHours,
		}
	}
	return &Engine{profiles: profiles, now: clock}
}

func (e *Engine) profile(c data.Category) Profile {
	if p, ok := e.profiles[c]; ok {
		return p
	}
	return e.profiles[data.CategoryOther]
}

// Assess computes straight-line depreciation and lifecycle stage. healthScore
// is the predictive maintenance health (0..100) used for the replacement call.
func (e *Engine) Assess(a data.Asset, healthScore float64) (Assessment, error) {
	if a.PurchaseDate.IsZero() || a.PurchasePrice <= 0 {
		return Assessment{}, ErrMissingAcquisition
	}
	prof := e.profile(a.Category)

	age := e.now().Sub(a.PurchaseDate).Hours() / hoursPerYear
	if age < 0 {
		age = 0
	}
	fraction := math.Min(1, age/prof.UsefulLifeYears)

	salvage := a.PurchasePrice * prof.SalvageFraction
	depreciable := a.PurchasePrice - salvage
	accumulated := depreciable * fraction

	interval := prof.BaseIntervalHours * (1 - 0.4*fraction)
	interval = math.Max(interval, prof.BaseIntervalHours*minIntervalFraction)
	if a.Utilization > heavyUtilization {
		interval *= 0.9
	}

	stage := stageFor(age / prof.UsefulLifeYears)
	return Assessment{
		AssetID:                  a.ID,
		Category:                 a.Category,
		AgeYears:                 round(age, 2),
		PurchasePrice:            a.PurchasePrice,
		SalvageValue:             round(salvage, 2),
		AnnualDepreciation:       round(depreciable/prof.UsefulLifeYears, 2),
		AccumulatedDepreciation:  round(accumulated, 2),
		BookValue:                round(a.PurchasePrice-accumulated, 2),
		Stage:                    stage,
		MaintenanceIntervalHours: round(interval, 0),
		ReplacementRecommended:   stage == StageEndOfLife || (stage == StageAging && healthScore < replaceHealthBelow),
	}, nil
}

func stageFor(fraction float64) Stage {
	switch {
	case fraction < 0.1:
		return StageNew
	case fraction < 0.5:
		return StagePrime
	case fraction < 0.8:
		return StageMature
	case fraction < 1.0:
		return StageAging
	}
	return StageEndOfLife
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
