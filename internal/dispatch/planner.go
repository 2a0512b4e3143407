// internal/dispatch/planner.go
package dispatch

import (
	"fmt"
	"sort"
	"time"

	"fleet-gateway/internal/data"
	"fleet-gateway/internal/maintenance"
	"fleet-gateway/internal/scoring"
)

// Planner combines scoring and maintenance output into dispatch decisions.
type Planner struct {
	scorer        *scoring.Scorer
	maintenance   *maintenance.Engine
	fuelThreshold float64
	idleDays      int
	now           func() time.Time
}

type Recommendation struct {
	Rank int `json:"rank"`
	scoring.Evaluation
	HealthScore float64               `json:"health_score"`
	RiskLevel   maintenance.RiskLevel `json:"risk_level"`
}

// EquipmentStatus is one row of the dispatch board.
type EquipmentStatus struct {
	scoring.Evaluation
	Name        string                `json:"name,omitempty"`
	Latitude    float64               `json:"lat"`
	Longitude   float64               `json:"lng"`
	FuelLevel   float64               `json:"fuel_level"`
	HealthScore float64               `json:"health_score"`
	RiskLevel   maintenance.RiskLevel `json:"risk_level"`
	AlertCount  int                   `json:"alert_count"`
}

type Filter struct {
	Category data.Category
	Limit    int
}

func NewPlanner(scorer *scoring.Scorer, engine *maintenance.Engine, fuelThreshold float64, idleDays int, clock func() time.Time) *Planner {
	if clock == nil {
		clock = time.Now
	}
	if idleDays <= 0 {
		idleDays = 7
	}
	return &Planner{
		scorer:        scorer,
		maintenance:   engine,
		fuelThreshold: fuelThreshold,
		idleDays:      idleDays,
		now:           clock,
	}
}

// Alerts derives the dispatch alerts for a single asset.
func (p *Planner) Alerts(a data.Asset) []data.Alert {
	ts := p.now()
	var alerts []data.Alert

	if a.FuelLevel < p.fuelThreshold {
		sev := data.SeverityWarn
		if a.FuelLevel < p.fuelThreshold/2 {
			sev = data.SeverityCritical
		}
		alerts = append(alerts, data.Alert{
			Timestamp: ts,
			Kind:      data.AlertLowFuel,
			Severity:  sev,
			Message:   fmt.Sprintf("fuel at %.0f%%, refuel before dispatch", a.FuelLevel),
			Metric:    "fuel_level",
			Value:     a.FuelLevel,
			AssetID:   a.ID,
		})
	}

	pred := p.maintenance.Predict(a)
	if a.MaintenanceDue || pred.RiskLevel == maintenance.RiskCritical {
		sev := data.SeverityWarn
		if pred.RiskLevel == maintenance.RiskCritical {
			sev = data.SeverityCritical
		}
		alerts = append(alerts, data.Alert{
			Timestamp: ts,
			Kind:      data.AlertMaintenanceDue,
			Severity:  sev,
			Message:   fmt.Sprintf("maintenance needed, health %.1f, next %s in %.0fh", pred.HealthScore, pred.NextComponent, pred.HoursToService),
			Metric:    "health_score",
			Value:     pred.HealthScore,
			AssetID:   a.ID,
		})
	}

	if days := p.scorer.DaysInactive(a); days >= p.idleDays {
		alerts = append(alerts, data.Alert{
			Timestamp: ts,
			Kind:      data.AlertIdleAsset,
			Severity:  data.SeverityInfo,
			Message:   fmt.Sprintf("no activity for %d days", days),
			Metric:    "days_inactive",
			Value:     float64(days),
			AssetID:   a.ID,
		})
	}
	return alerts
}

// FleetAlerts returns alerts for every asset, most severe first.
func (p *Planner) FleetAlerts(assets []data.Asset) []data.Alert {
	var all []data.Alert
	for _, a := range assets {
		all = append(all, p.Alerts(a)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		si, sj := severityRank(all[i].Severity), severityRank(all[j].Severity)
		if si != sj {
			return si > sj
		}
		if all[i].AssetID != all[j].AssetID {
			return all[i].AssetID < all[j].AssetID
		}
		return all[i].Kind < all[j].Kind
	})
	return all
}

// Recommend ranks the assets that can be sent out now: available or idle and
// not at critical maintenance risk. Highest priority first.
func (p *Planner) Recommend(assets []data.Asset, f Filter) []Recommendation {
	var recs []Recommendation
	for _, a := range assets {
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		ev := p.scorer.Evaluate(a)
		if ev.Status != data.StatusAvailable && ev.Status != data.StatusIdle {
			continue
		}
		pred := p.maintenance.Predict(a)
		if pred.RiskLevel == maintenance.RiskCritical {
			continue
		}
		recs = append(recs, Recommendation{
			Evaluation:  ev,
			HealthScore: pred.HealthScore,
			RiskLevel:   pred.RiskLevel,
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].AssetID < recs[j].AssetID
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	for i := range recs {
		recs[i].Rank = i + 1
	}
	return recs
}

// Board builds the equipment status board ordered by asset id.
func (p *Planner) Board(assets []data.Asset) []EquipmentStatus {
	rows := make([]EquipmentStatus, 0, len(assets))
	for _, a := range assets {
		pred := p.maintenance.Predict(a)
		rows = append(rows, EquipmentStatus{
			Evaluation:  p.scorer.Evaluate(a),
			Name:        a.Name,
			Latitude:    a.Latitude,
			Longitude:   a.Longitude,
			FuelLevel:   a.FuelLevel,
			HealthScore: pred.HealthScore,
			RiskLevel:   pred.RiskLevel,
			AlertCount:  len(p.Alerts(a)),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AssetID < rows[j].AssetID })
	return rows
}

func severityRank(s string) int {
	switch s {
	case data.SeverityCritical:
		return 2
	case data.SeverityWarn:
		return 1
	}
	return 0
}
