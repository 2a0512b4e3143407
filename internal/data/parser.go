// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrNoAssetID    = errors.New("record has no asset identifier")
)

// now is replaced in tests.
var now = time.Now

// ParseError describes a snapshot row that could not be turned into an asset.
type ParseError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Field aliases seen in GAUGE exports, keyed by canonical name. Lookups are
// case-insensitive.
var fieldAliases = map[string][]string{
	"id":                 {"id", "asset_id", "assetidentifier", "asset_identifier", "equipment_id", "equipment #", "sensor_id", "device"},
	"name":               {"name", "asset_name", "label", "description"},
	"category":           {"category", "asset_category", "assetcategory", "type", "equipment_type"},
	"lat":                {"lat", "latitude"},
	"lng":                {"lng", "lon", "long", "longitude"},
	"fuel_level":         {"fuel_level", "fuellevel", "fuel", "fuel_pct"},
	"operating_hours":    {"operating_hours", "enginehours", "engine_hours", "hours", "hour_meter"},
	"utilization":        {"utilization", "utilization_pct"},
	"maintenance_due":    {"maintenance_due", "maintenancedue", "service_due"},
	"billing_rate":       {"billing_rate", "monthly_rate", "rate"},
	"last_update":        {"last_update", "eventdatetime", "last_updated", "timestamp", "lastupdate"},
	"purchase_date":      {"purchase_date", "acquired", "in_service_date"},
	"purchase_price":     {"purchase_price", "acquisition_cost", "cost"},
	"last_service_hours": {"last_service_hours", "last_service", "service_hours"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Parse turns a pushed JSON telemetry payload into a TelemetryPoint. Every
// numeric top-level field other than identifiers and timestamps becomes a
// metric; a nested "metrics" object is merged in as well.
func Parse(rawData []byte, source string) (*TelemetryPoint, error) {
	return ParseFor(rawData, source, "")
}

// ParseFor is Parse with an asset id to fall back on when the payload carries
// none, e.g. one taken from an MQTT topic.
func ParseFor(rawData []byte, source, defaultID string) (*TelemetryPoint, error) {
	if len(bytes.TrimSpace(rawData)) == 0 {
		return nil, ErrEmptyPayload
	}

	var payload map[string]any
	if err := json.Unmarshal(rawData, &payload); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}
	rec := lowerKeys(payload)

	point := &TelemetryPoint{
		Timestamp:       now(),
		Source:          source,
		Metrics:         make(map[string]float64),
		OriginalPayload: rawData,
	}

	if id, ok := lookup(rec, "id"); ok {
		point.AssetID = strings.TrimSpace(toString(id))
	}
	if point.AssetID == "" {
		point.AssetID = defaultID
	}
	if point.AssetID == "" {
		return nil, ErrNoAssetID
	}
	if ts, ok := lookup(rec, "last_update"); ok {
		if t, ok := toTime(ts); ok {
			point.Timestamp = t
		}
	}

	skip := map[string]bool{"topic": true}
	for _, canonical := range []string{"id", "last_update", "name", "category"} {
		for _, alias := range fieldAliases[canonical] {
			skip[alias] = true
		}
	}
	for k, v := range rec {
		if skip[k] {
			continue
		}
		if k == "metrics" {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range lowerKeys(nested) {
					if f, ok := toFloat(nv); ok {
						point.Metrics[canonicalMetric(nk)] = f
					}
				}
			}
			continue
		}
		if b, ok := v.(bool); ok {
			v = 0.0
			if b {
				v = 1.0
			}
		}
		if f, ok := toFloat(v); ok {
			point.Metrics[canonicalMetric(k)] = f
		}
	}

	if len(point.Metrics) == 0 {
		return nil, fmt.Errorf("telemetry for %s carries no numeric metrics", point.AssetID)
	}
	return point, nil
}

// ParseSnapshot decodes a GAUGE JSON snapshot. Both a bare array and an
// object wrapping the array under "assets" (or "data") are accepted. Rows
// that cannot be used are reported and skipped.
func ParseSnapshot(raw []byte) ([]Asset, []ParseError, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, ErrEmptyPayload
	}

	var rows []map[string]any
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, nil, fmt.Errorf("decode snapshot: %w", err)
		}
	} else {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, nil, fmt.Errorf("decode snapshot: %w", err)
		}
		body, ok := wrapper["assets"]
		if !ok {
			body, ok = wrapper["data"]
		}
		if !ok {
			return nil, nil, errors.New("decode snapshot: no assets array")
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}

	assets := make([]Asset, 0, len(rows))
	var rowErrs []ParseError
	for i, row := range rows {
		asset, err := assetFromRecord(lowerKeys(row))
		if err != nil {
			rowErrs = append(rowErrs, ParseError{Row: i + 1, Reason: err.Error()})
			continue
		}
		assets = append(assets, asset)
	}
	return assets, rowErrs, nil
}

// ParseSnapshotCSV decodes a CSV snapshot whose first row is a header.
func ParseSnapshotCSV(r io.Reader) ([]Asset, []ParseError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyPayload
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	var assets []Asset
	var rowErrs []ParseError
	for row := 2; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if !errors.As(err, &csvErr) {
				return assets, rowErrs, fmt.Errorf("read csv: %w", err)
			}
			rowErrs = append(rowErrs, ParseError{Row: row, Reason: err.Error()})
			continue
		}
		rec := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(fields) && strings.TrimSpace(fields[i]) != "" {
				rec[h] = strings.TrimSpace(fields[i])
			}
		}
		asset, err := assetFromRecord(rec)
		if err != nil {
			rowErrs = append(rowErrs, ParseError{Row: row, Reason: err.Error()})
			continue
		}
		assets = append(assets, asset)
	}
	return assets, rowErrs, nil
}

func assetFromRecord(rec map[string]any) (Asset, error) {
	var a Asset
	if v, ok := lookup(rec, "id"); ok {
		a.ID = strings.TrimSpace(toString(v))
	}
	if a.ID == "" {
		return a, ErrNoAssetID
	}

	if v, ok := lookup(rec, "name"); ok {
		a.Name = toString(v)
	}
	if v, ok := lookup(rec, "category"); ok {
		a.Category = NormalizeCategory(toString(v))
	} else {
		a.Category = CategoryOther
		a.Defaulted = append(a.Defaulted, "category")
	}

	floatField := func(name string, dst *float64, def float64, core bool) error {
		v, ok := lookup(rec, name)
		if !ok {
			*dst = def
			if core {
				a.Defaulted = append(a.Defaulted, name)
			}
			return nil
		}
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("%s: not a number: %v", name, v)
		}
		*dst = f
		return nil
	}
	for _, f := range []struct {
		name string
		dst  *float64
		def  float64
		core bool
	}{
		{"lat", &a.Latitude, 0, true},
		{"lng", &a.Longitude, 0, true},
		{"fuel_level", &a.FuelLevel, 100, true},
		{"operating_hours", &a.OperatingHours, 0, true},
		{"utilization", &a.Utilization, 0, true},
		{"billing_rate", &a.BillingRate, 0, false},
		{"purchase_price", &a.PurchasePrice, 0, false},
		{"last_service_hours", &a.LastServiceHours, 0, false},
	} {
		if err := floatField(f.name, f.dst, f.def, f.core); err != nil {
			return a, err
		}
	}
	if a.FuelLevel < 0 || a.FuelLevel > 100 {
		return a, fmt.Errorf("fuel_level %.1f outside [0,100]", a.FuelLevel)
	}
	if a.OperatingHours < 0 {
		return a, fmt.Errorf("operating_hours %.1f is negative", a.OperatingHours)
	}

	if v, ok := lookup(rec, "maintenance_due"); ok {
		a.MaintenanceDue = toBool(v)
	}
	if v, ok := lookup(rec, "last_update"); ok {
		t, ok := toTime(v)
		if !ok {
			return a, fmt.Errorf("last_update: unrecognised time %v", v)
		}
		a.LastUpdate = t
	} else {
		a.Defaulted = append(a.Defaulted, "last_update")
	}
	if v, ok := lookup(rec, "purchase_date"); ok {
		if t, ok := toTime(v); ok {
			a.PurchaseDate = t
		}
	}
	return a, nil
}

// NormalizeCategory maps free-form equipment type labels onto a Category.
func NormalizeCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return CategoryOther
	case strings.Contains(s, "excavat"), strings.Contains(s, "trackhoe"):
		return CategoryExcavator
	case strings.Contains(s, "dozer"):
		return CategoryDozer
	case strings.Contains(s, "loader"), strings.Contains(s, "skid"), strings.Contains(s, "backhoe"):
		return CategoryLoader
	case strings.Contains(s, "compact"), strings.Contains(s, "roller"):
		return CategoryCompactor
	case strings.Contains(s, "truck"), strings.Contains(s, "pickup"):
		return CategoryTruck
	case strings.Contains(s, "generator"), strings.Contains(s, "light tower"):
		return CategoryGenerator
	case strings.Contains(s, "trailer"):
		return CategoryTrailer
	}
	return CategoryOther
}

func canonicalMetric(k string) string {
	for canonical, aliases := range fieldAliases {
		for _, alias := range aliases {
			if k == alias {
				return canonical
			}
		}
	}
	return k
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func lookup(rec map[string]any, canonical string) (any, bool) {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := rec[alias]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimSuffix(s, "%")
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "due":
			return true
		}
	}
	return false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	}
	return time.Time{}, false
}
