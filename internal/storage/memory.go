// internal/storage/memory.go
package storage

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"fleet-gateway/internal/data"
)

const defaultHistorySize = 100 // readings kept per asset

var ErrNotFound = errors.New("not found")

// FleetStore holds the latest state of every asset plus a bounded history of
// telemetry readings per asset. All returned values are copies.
type FleetStore struct {
	mu       sync.RWMutex
	assets   map[string]*data.Asset
	history  map[string][]*data.TelemetryPoint
	capacity int
}

func NewFleetStore(historySize int) *FleetStore {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &FleetStore{
		assets:   make(map[string]*data.Asset),
		history:  make(map[string][]*data.TelemetryPoint),
		capacity: historySize,
	}
}

// Upsert merges a snapshot into the store. For a known asset, fields the
// snapshot row left out (listed in Defaulted, or zero for acquisition and
// billing data) keep their current values.
func (s *FleetStore) Upsert(assets []data.Asset) (created, updated int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range assets {
		incoming := copyAsset(assets[i])
		existing, ok := s.assets[incoming.ID]
		if !ok {
			s.assets[incoming.ID] = &incoming
			created++
			continue
		}
		mergeKnown(&incoming, existing)
		s.assets[incoming.ID] = &incoming
		updated++
	}
	return created, updated
}

func mergeKnown(incoming *data.Asset, existing *data.Asset) {
	var still []string
	for _, name := range incoming.Defaulted {
		switch name {
		case "category":
			incoming.Category = existing.Category
		case "lat":
			incoming.Latitude = existing.Latitude
		case "lng":
			incoming.Longitude = existing.Longitude
		case "fuel_level":
			incoming.FuelLevel = existing.FuelLevel
		case "operating_hours":
			incoming.OperatingHours = existing.OperatingHours
		case "utilization":
			incoming.Utilization = existing.Utilization
		case "last_update":
			incoming.LastUpdate = existing.LastUpdate
		default:
			still = append(still, name)
			continue
		}
		// the kept value may itself have been a default
		if slices.Contains(existing.Defaulted, name) {
			still = append(still, name)
		}
	}
	incoming.Defaulted = still

	if incoming.Name == "" {
		incoming.Name = existing.Name
	}
	if incoming.BillingRate == 0 {
		incoming.BillingRate = existing.BillingRate
	}
	if incoming.PurchaseDate.IsZero() {
		incoming.PurchaseDate = existing.PurchaseDate
	}
	if incoming.PurchasePrice == 0 {
		incoming.PurchasePrice = existing.PurchasePrice
	}
	if incoming.LastServiceHours == 0 {
		incoming.LastServiceHours = existing.LastServiceHours
	}
	if incoming.LastUpdate.Before(existing.LastUpdate) {
		incoming.LastUpdate = existing.LastUpdate
	}
}

// Apply records a telemetry point and folds it into the asset, creating the
// asset if it has not been seen before.
func (s *FleetStore) Apply(point *data.TelemetryPoint) data.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[point.AssetID]
	if !ok {
		asset = &data.Asset{
			ID:        point.AssetID,
			Category:  data.CategoryOther,
			FuelLevel: 100,
			Defaulted: []string{"category"},
		}
		if _, hasFuel := point.Metrics["fuel_level"]; !hasFuel {
			asset.Defaulted = append(asset.Defaulted, "fuel_level")
		}
		s.assets[point.AssetID] = asset
	}
	asset.Apply(point)

	buf := s.history[point.AssetID]
	if len(buf) >= s.capacity {
		buf = buf[1:]
	}
	s.history[point.AssetID] = append(buf, point)

	return copyAsset(*asset)
}

func (s *FleetStore) Get(id string) (data.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return data.Asset{}, ErrNotFound
	}
	return copyAsset(*a), nil
}

// List returns all assets ordered by id.
func (s *FleetStore) List() []data.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]data.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, copyAsset(*a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FleetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

// Recent returns up to count of the newest readings for an asset, oldest
// first. count <= 0 returns everything held.
func (s *FleetStore) Recent(id string, count int) []*data.TelemetryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.history[id]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	result := make([]*data.TelemetryPoint, count)
	copy(result, buf[len(buf)-count:])
	return result
}

// RecentAll returns up to count of the newest readings across the fleet,
// oldest first.
func (s *FleetStore) RecentAll(count int) []*data.TelemetryPoint {
	s.mu.RLock()
	var all []*data.TelemetryPoint
	for _, buf := range s.history {
		all = append(all, buf...)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if count > 0 && len(all) > count {
		all = all[len(all)-count:]
	}
	return all
}

// ApplyRates sets billing rates on known assets and reports ids that are not
// in the fleet.
func (s *FleetStore) ApplyRates(rates map[string]float64) (applied, missing []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rate := range rates {
		a, ok := s.assets[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		a.BillingRate = rate
		applied = append(applied, id)
	}
	sort.Strings(applied)
	sort.Strings(missing)
	return applied, missing
}

func copyAsset(a data.Asset) data.Asset {
	if a.Defaulted != nil {
		a.Defaulted = append([]string(nil), a.Defaulted...)
	}
	return a
}
