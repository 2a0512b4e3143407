// internal/dispatch/detector.go
package dispatch

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

// Detector checks telemetry readings against configured min/max rules.
type Detector struct {
	rules  map[string]config.Rule
	logger *zap.Logger
}

func NewDetector(rules map[string]config.Rule, logger *zap.Logger) *Detector {
	return &Detector{rules: rules, logger: logger}
}

// Check returns one threshold alert per metric outside its rule's range,
// ordered by metric name.
func (d *Detector) Check(point *data.TelemetryPoint) []data.Alert {
	names := make([]string, 0, len(point.Metrics))
	for name := range point.Metrics {
		if _, ok := d.rules[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var alerts []data.Alert
	for _, name := range names {
		rule := d.rules[name]
		value := point.Metrics[name]
		if value >= rule.Min && value <= rule.Max {
			continue
		}
		alert := data.Alert{
			Timestamp: point.Timestamp,
			Kind:      data.AlertThreshold,
			Severity:  thresholdSeverity(value, rule),
			Message:   fmt.Sprintf("%s %.2f outside range [%.2f, %.2f]", name, value, rule.Min, rule.Max),
			Metric:    name,
			Value:     value,
			AssetID:   point.AssetID,
		}
		alerts = append(alerts, alert)
		d.logger.Warn("threshold breached",
			zap.String("asset_id", point.AssetID),
			zap.String("metric", name),
			zap.Float64("value", value),
		)
	}
	return alerts
}

// thresholdSeverity escalates to CRITICAL when the value is off by more than
// a quarter of the allowed span.
func thresholdSeverity(v float64, r config.Rule) string {
	span := r.Max - r.Min
	if span <= 0 {
		return data.SeverityWarn
	}
	over := 0.0
	if v > r.Max {
		over = v - r.Max
	} else if v < r.Min {
		over = r.Min - v
	}
	if over > span/4 {
		return data.SeverityCritical
	}
	return data.SeverityWarn
}
