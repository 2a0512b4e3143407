// internal/data/models.go
package data

import (
	"slices"
	"time"
)

type Category string

const (
	CategoryExcavator Category = "excavator"
	CategoryTruck     Category = "truck"
	CategoryCompactor Category = "compactor"
	CategoryLoader    Category = "loader"
	CategoryDozer     Category = "dozer"
	CategoryGenerator Category = "generator"
	CategoryTrailer   Category = "trailer"
	CategoryOther     Category = "other"
)

type AssetStatus string

const (
	StatusNeedsFuel AssetStatus = "needs_fuel"
	StatusActive    AssetStatus = "active"
	StatusAvailable AssetStatus = "available"
	StatusIdle      AssetStatus = "idle"
)

// Asset is the current known state of one piece of equipment.
type Asset struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	Category         Category  `json:"category"`
	Latitude         float64   `json:"lat"`
	Longitude        float64   `json:"lng"`
	FuelLevel        float64   `json:"fuel_level"`      // percent
	OperatingHours   float64   `json:"operating_hours"` // engine hour meter
	Utilization      float64   `json:"utilization"`     // percent
	MaintenanceDue   bool      `json:"maintenance_due"`
	BillingRate      float64   `json:"billing_rate"` // monthly
	LastUpdate       time.Time `json:"last_update"`
	PurchaseDate     time.Time `json:"purchase_date,omitempty"`
	PurchasePrice    float64   `json:"purchase_price,omitempty"`
	LastServiceHours float64   `json:"last_service_hours,omitempty"`
	// Defaulted lists the fields that were absent in the source record.
	Defaulted []string `json:"defaulted,omitempty"`
}

// TelemetryPoint is a single reading pushed by a device or translator.
type TelemetryPoint struct {
	Timestamp       time.Time          `json:"timestamp"`
	Source          string             `json:"source,omitempty"` // "http", "mqtt", "gauge"
	AssetID         string             `json:"asset_id,omitempty"`
	Metrics         map[string]float64 `json:"metrics"`
	OriginalPayload []byte             `json:"-"`
}

type AlertKind string

const (
	AlertLowFuel        AlertKind = "low_fuel"
	AlertMaintenanceDue AlertKind = "maintenance_due"
	AlertIdleAsset      AlertKind = "idle_asset"
	AlertThreshold      AlertKind = "threshold"
)

const (
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityCritical = "CRITICAL"
)

// Alert is a dispatch alert. It is derived on demand and never stored.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      AlertKind `json:"kind"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Metric    string    `json:"metric,omitempty"`
	Value     float64   `json:"value"`
	AssetID   string    `json:"asset_id,omitempty"`
}

// Apply folds a telemetry reading into the asset. Readings older than the
// asset's last update do not move LastUpdate backwards. Fields the reading
// carries are no longer reported as defaulted.
func (a *Asset) Apply(p *TelemetryPoint) {
	if v, ok := p.Metrics["fuel_level"]; ok {
		a.FuelLevel = v
		a.clearDefaulted("fuel_level")
	}
	if v, ok := p.Metrics["operating_hours"]; ok && v >= a.OperatingHours {
		a.OperatingHours = v
		a.clearDefaulted("operating_hours")
	}
	if v, ok := p.Metrics["utilization"]; ok {
		a.Utilization = v
		a.clearDefaulted("utilization")
	}
	if v, ok := p.Metrics["lat"]; ok {
		a.Latitude = v
		a.clearDefaulted("lat")
	}
	if v, ok := p.Metrics["lng"]; ok {
		a.Longitude = v
		a.clearDefaulted("lng")
	}
	if v, ok := p.Metrics["maintenance_due"]; ok {
		a.MaintenanceDue = v != 0
	}
	if p.Timestamp.After(a.LastUpdate) {
		a.LastUpdate = p.Timestamp
		a.clearDefaulted("last_update")
	}
}

func (a *Asset) clearDefaulted(name string) {
	if i := slices.Index(a.Defaulted, name); i >= 0 {
		a.Defaulted = slices.Delete(a.Defaulted, i, i+1)
	}
}
