package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-gateway/internal/data"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestFleetStoreUpsert(t *testing.T) {
	s := NewFleetStore(0)

	created, updated := s.Upsert([]data.Asset{
		{ID: "EX-1", Category: data.CategoryExcavator, FuelLevel: 50, BillingRate: 9000, LastUpdate: t0},
		{ID: "TR-1", Category: data.CategoryTruck, FuelLevel: 70},
	})
	assert.Equal(t, 2, created)
	assert.Zero(t, updated)

	created, updated = s.Upsert([]data.Asset{
		{ID: "EX-1", Category: data.CategoryExcavator, FuelLevel: 30, LastUpdate: t0.Add(-time.Hour)},
	})
	assert.Zero(t, created)
	assert.Equal(t, 1, updated)

	ex, err := s.Get("EX-1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, ex.FuelLevel)
	assert.Equal(t, 9000.0, ex.BillingRate, "known billing rate survives a snapshot without one")
	assert.Equal(t, t0, ex.LastUpdate, "last update never moves backwards")

	assert.Equal(t, 2, s.Len())
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "EX-1", list[0].ID)
	assert.Equal(t, "TR-1", list[1].ID)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFleetStoreUpsertKeepsKnownValues(t *testing.T) {
	s := NewFleetStore(10)
	s.Upsert([]data.Asset{{
		ID: "TR-1", Name: "Truck 1", Category: data.CategoryTruck, Latitude: 30.1, Longitude: -97.7,
		OperatingHours: 800, PurchasePrice: 90000, PurchaseDate: t0.AddDate(-3, 0, 0), LastUpdate: t0,
		Defaulted: []string{"utilization"},
	}})
	s.Apply(&data.TelemetryPoint{AssetID: "TR-1", Timestamp: t0.Add(time.Minute), Metrics: map[string]float64{"fuel_level": 5}})

	// a snapshot row that only carries the id and hour meter
	s.Upsert([]data.Asset{{
		ID: "TR-1", Category: data.CategoryOther, FuelLevel: 100, OperatingHours: 810,
		Defaulted: []string{"category", "lat", "lng", "fuel_level", "utilization", "last_update"},
	}})

	a, err := s.Get("TR-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.FuelLevel)
	assert.Equal(t, 810.0, a.OperatingHours)
	assert.Equal(t, data.CategoryTruck, a.Category)
	assert.Equal(t, 30.1, a.Latitude)
	assert.Equal(t, -97.7, a.Longitude)
	assert.Equal(t, "Truck 1", a.Name)
	assert.Equal(t, 90000.0, a.PurchasePrice)
	assert.Equal(t, t0.AddDate(-3, 0, 0), a.PurchaseDate)
	assert.Equal(t, t0.Add(time.Minute), a.LastUpdate)
	assert.Equal(t, []string{"utilization"}, a.Defaulted, "only values that were never reported stay defaulted")
}

func TestFleetStoreApplyClearsDefaulted(t *testing.T) {
	s := NewFleetStore(10)
	s.Upsert([]data.Asset{{ID: "GN-1", FuelLevel: 100, Defaulted: []string{"fuel_level", "lat"}}})

	a := s.Apply(&data.TelemetryPoint{AssetID: "GN-1", Timestamp: t0, Metrics: map[string]float64{"fuel_level": 12}})
	assert.Equal(t, 12.0, a.FuelLevel)
	assert.Equal(t, []string{"lat"}, a.Defaulted)
}

func TestFleetStoreApplyCreatesUnknownAsset(t *testing.T) {
	s := NewFleetStore(10)

	a := s.Apply(&data.TelemetryPoint{AssetID: "GN-1", Timestamp: t0, Metrics: map[string]float64{"operating_hours": 12}})
	assert.Equal(t, data.CategoryOther, a.Category)
	assert.Equal(t, 100.0, a.FuelLevel)
	assert.Equal(t, 12.0, a.OperatingHours)
	assert.Equal(t, []string{"category", "fuel_level"}, a.Defaulted)
	assert.Equal(t, t0, a.LastUpdate)

	b := s.Apply(&data.TelemetryPoint{AssetID: "GN-2", Timestamp: t0, Metrics: map[string]float64{"fuel_level": 40}})
	assert.Equal(t, []string{"category"}, b.Defaulted)
	assert.Equal(t, 40.0, b.FuelLevel)
}

func TestFleetStoreReturnsCopies(t *testing.T) {
	s := NewFleetStore(10)
	s.Upsert([]data.Asset{{ID: "A", Defaulted: []string{"lat"}}})

	a, err := s.Get("A")
	require.NoError(t, err)
	a.Defaulted[0] = "mutated"
	a.FuelLevel = 1

	again, err := s.Get("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"lat"}, again.Defaulted)
	assert.Zero(t, again.FuelLevel)
}

func TestFleetStoreHistoryRing(t *testing.T) {
	s := NewFleetStore(3)
	for i := 0; i < 5; i++ {
		s.Apply(&data.TelemetryPoint{
			AssetID:   "EX-1",
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Metrics:   map[string]float64{"fuel_level": float64(90 - i)},
		})
	}
	s.Apply(&data.TelemetryPoint{AssetID: "TR-1", Timestamp: t0.Add(90 * time.Second), Metrics: map[string]float64{"fuel_level": 10}})

	recent := s.Recent("EX-1", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, 88.0, recent[0].Metrics["fuel_level"])
	assert.Equal(t, 86.0, recent[2].Metrics["fuel_level"])

	last := s.Recent("EX-1", 1)
	require.Len(t, last, 1)
	assert.Equal(t, 86.0, last[0].Metrics["fuel_level"])

	assert.Empty(t, s.Recent("missing", 5))

	all := s.RecentAll(2)
	require.Len(t, all, 2)
	assert.Equal(t, "EX-1", all[0].AssetID)
	assert.Equal(t, t0.Add(3*time.Minute), all[0].Timestamp)
	assert.Equal(t, t0.Add(4*time.Minute), all[1].Timestamp)

	assert.Len(t, s.RecentAll(0), 4)
}

func TestFleetStoreApplyRates(t *testing.T) {
	s := NewFleetStore(10)
	s.Upsert([]data.Asset{{ID: "B"}, {ID: "A"}})

	applied, missing := s.ApplyRates(map[string]float64{"A": 100, "B": 200, "Z": 300, "Y": 1})
	assert.Equal(t, []string{"A", "B"}, applied)
	assert.Equal(t, []string{"Y", "Z"}, missing)

	b, err := s.Get("B")
	require.NoError(t, err)
	assert.Equal(t, 200.0, b.BillingRate)
}

func TestFleetStoreConcurrentAccess(t *testing.T) {
	s := NewFleetStore(5)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				s.Apply(&data.TelemetryPoint{
					AssetID:   fmt.Sprintf("A-%d", w),
					Timestamp: t0.Add(time.Duration(i) * time.Second),
					Metrics:   map[string]float64{"fuel_level": 50},
				})
				_ = s.List()
				_ = s.RecentAll(10)
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	assert.Equal(t, 4, s.Len())
	assert.Len(t, s.Recent("A-0", 0), 5)
}
